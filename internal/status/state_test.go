package status

import "testing"

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Created, Sent},
		{Sent, Delivered},
		{Sent, Read},
		{Delivered, Read},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if err := Check(tt.from, tt.to); err != nil {
				t.Errorf("Check(%s -> %s) error = %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Created, Delivered},
		{Delivered, Sent},
		{Read, Delivered},
		{Read, Read},
		{Delivered, Delivered},
		{State("BOGUS"), Sent},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if err := Check(tt.from, tt.to); err == nil {
				t.Errorf("Check(%s -> %s) should fail", tt.from, tt.to)
			}
		})
	}
}

func TestOf(t *testing.T) {
	ts := int64(1000)
	if got := Of(nil, nil); got != Sent {
		t.Errorf("Of(nil, nil) = %s, want SENT", got)
	}
	if got := Of(&ts, nil); got != Delivered {
		t.Errorf("Of(delivered, nil) = %s, want DELIVERED", got)
	}
	if got := Of(&ts, &ts); got != Read {
		t.Errorf("Of(delivered, read) = %s, want READ", got)
	}
	if got := Of(nil, &ts); got != Read {
		t.Errorf("Of(nil, read) = %s, want READ", got)
	}
}

// TestReadIsTerminal walks the whole lifecycle and verifies nothing leaves READ.
func TestReadIsTerminal(t *testing.T) {
	cur := Created
	for _, next := range []State{Sent, Delivered, Read} {
		if err := Check(cur, next); err != nil {
			t.Fatalf("%s -> %s: %v", cur, next, err)
		}
		cur = next
	}
	for _, s := range []State{Created, Sent, Delivered, Read} {
		if Check(Read, s) == nil {
			t.Errorf("READ -> %s should fail", s)
		}
	}
}

func TestWire(t *testing.T) {
	if Delivered.Wire() != "delivered" || Read.Wire() != "read" || Sent.Wire() != "sent" {
		t.Error("unexpected wire names")
	}
}
