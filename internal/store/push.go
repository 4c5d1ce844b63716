package store

import "context"

// UpsertSubscription registers or refreshes a push endpoint for user.
// Re-subscribing reactivates a soft-disabled endpoint.
func (q *Queries) UpsertSubscription(ctx context.Context, s *PushSubscription, at int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, user_agent, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			user_agent = excluded.user_agent,
			is_active = 1,
			updated_at = excluded.updated_at`,
		s.UserID, s.Endpoint, s.P256dh, s.Auth, s.UserAgent, at, at)
	return err
}

// ActiveSubscriptions returns the endpoints that still accept pushes.
func (q *Queries) ActiveSubscriptions(ctx context.Context, userID int64) ([]PushSubscription, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, is_active
		FROM push_subscriptions WHERE user_id = ? AND is_active = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var subs []PushSubscription
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.UserAgent, &s.IsActive); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// DeactivateSubscription soft-disables an endpoint after a failed delivery.
func (q *Queries) DeactivateSubscription(ctx context.Context, id, at int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE push_subscriptions SET is_active = 0, updated_at = ? WHERE id = ?`, at, id)
	return err
}

// Unsubscribe soft-disables the endpoint a user removed.
func (q *Queries) Unsubscribe(ctx context.Context, userID int64, endpoint string, at int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE push_subscriptions SET is_active = 0, updated_at = ? WHERE user_id = ? AND endpoint = ?`,
		at, userID, endpoint)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
