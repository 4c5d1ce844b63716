package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/notify"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $RELAY_HOME/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = instance.ConfigPath()
	}

	// Offline commands work on the config file only.
	switch args[0] {
	case "init":
		cmdInit(cfgPath)
		return
	case "vapid":
		cmdVapid(*jsonFlag)
		return
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fatal(err)
	}
	name := instance.Resolve(*instanceFlag, cfg)
	if err := instance.ValidateName(name); err != nil {
		fatal(err)
	}

	switch args[0] {
	case "token":
		cmdToken(cfg, args[1:], *jsonFlag)
		return
	case "status":
		cmdStatus(name, *jsonFlag)
		return
	}

	if pid, err := lock.Holder(instance.Dir(name)); err == nil && pid == 0 {
		fmt.Fprintf(os.Stderr, "error: relayd is not running for instance %q\n", name)
		os.Exit(1)
	}

	c, err := api.Dial(instance.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "presence":
		cmdPresence(ctx, c, *jsonFlag)
	case "rooms":
		cmdRooms(ctx, c, *jsonFlag)
	case "unread":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: relayctl unread <user-id>")
			os.Exit(1)
		}
		cmdUnread(ctx, c, parseID(args[1]), *jsonFlag)
	case "conversations":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: relayctl conversations <user-id> [dm:<id>|group:<id>]")
			os.Exit(1)
		}
		req := api.ConversationsRequest{UserID: parseID(args[1]), Limit: -1}
		if len(args) > 2 {
			typ, id, ok := strings.Cut(args[2], ":")
			if !ok {
				fatal(fmt.Errorf("active conversation must look like dm:<id> or group:<id>"))
			}
			req.ActiveType, req.ActiveID = typ, parseID(id)
		}
		cmdConversations(ctx, c, req, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl [--instance <name>] [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init                          Write a config with a fresh JWT secret and VAPID keys")
	fmt.Fprintln(os.Stderr, "  vapid                         Generate a VAPID key pair")
	fmt.Fprintln(os.Stderr, "  token <user-id>               Mint an access token for a user")
	fmt.Fprintln(os.Stderr, "  status                        Show whether relayd is running")
	fmt.Fprintln(os.Stderr, "  presence                      List online users")
	fmt.Fprintln(os.Stderr, "  rooms                         Show session and room counts")
	fmt.Fprintln(os.Stderr, "  unread <user-id>              Show unread counts for a user")
	fmt.Fprintln(os.Stderr, "  conversations <user-id> [t:id] List a user's conversations")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                Stream daemon events")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fatal(fmt.Errorf("invalid id %q", s))
	}
	return id
}

func cmdInit(path string) {
	if _, err := os.Stat(path); err == nil {
		fatal(fmt.Errorf("%s already exists", path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		fatal(err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fatal(err)
	}
	pub, priv, err := notify.GenerateVAPID()
	if err != nil {
		fatal(err)
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = hex.EncodeToString(secret)
	cfg.Push.VAPIDPublicKey = pub
	cfg.Push.VAPIDPrivateKey = priv
	if err := config.Save(path, cfg); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdVapid(jsonOut bool) {
	pub, priv, err := notify.GenerateVAPID()
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(map[string]string{"public_key": pub, "private_key": priv})
		return
	}
	fmt.Printf("vapid_public_key  = %q\n", pub)
	fmt.Printf("vapid_private_key = %q\n", priv)
}

func cmdToken(cfg *config.Config, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: relayctl token <user-id>")
		os.Exit(1)
	}
	j, err := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Duration)
	if err != nil {
		fatal(err)
	}
	tok, err := j.Sign(parseID(args[0]))
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(map[string]string{"token": tok})
		return
	}
	fmt.Println(tok)
}

func cmdStatus(name string, jsonOut bool) {
	pid, err := lock.Holder(instance.Dir(name))
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"instance": name, "running": pid != 0, "pid": pid})
		return
	}
	if pid == 0 {
		fmt.Printf("%-20s stopped\n", name)
		return
	}
	fmt.Printf("%-20s running (pid %d)\n", name, pid)
}

func cmdPresence(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.Presence(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputProto(resp)
		return
	}
	f := resp.GetFields()
	fmt.Printf("Instance: %s\n", f["instance"].GetStringValue())
	fmt.Printf("PID:      %d\n", int64(f["pid"].GetNumberValue()))
	fmt.Printf("Uptime:   %s\n", (time.Duration(f["uptime_ms"].GetNumberValue()) * time.Millisecond).Truncate(time.Second))
	fmt.Printf("Online:   %d\n", int64(f["online_count"].GetNumberValue()))
	for _, v := range f["online_user_ids"].GetListValue().GetValues() {
		fmt.Printf("  user %d\n", int64(v.GetNumberValue()))
	}
}

func cmdRooms(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.RoomStats(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputProto(resp)
		return
	}
	f := resp.GetFields()
	fmt.Printf("Sessions:        %d\n", int64(f["sessions"].GetNumberValue()))
	fmt.Printf("Bus subscribers: %d\n", int64(f["bus_subscribers"].GetNumberValue()))
	fmt.Printf("Bus dropped:     %d\n", int64(f["bus_dropped"].GetNumberValue()))
	rooms := f["rooms"].GetStructValue().GetFields()
	names := make([]string, 0, len(rooms))
	for k := range rooms {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %-24s %d\n", k, int64(rooms[k].GetNumberValue()))
	}
}

func cmdUnread(ctx context.Context, c *api.Client, userID int64, jsonOut bool) {
	resp, err := c.UnreadCounts(ctx, userID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputProto(resp)
		return
	}
	f := resp.GetFields()
	printCounts("Direct", f["direct"].GetStructValue())
	printCounts("Groups", f["groups"].GetStructValue())
	fmt.Printf("Pending invites: %d\n", int64(f["invites"].GetNumberValue()))
}

func printCounts(label string, s *structpb.Struct) {
	fmt.Printf("%s:\n", label)
	fields := s.GetFields()
	if len(fields) == 0 {
		fmt.Println("  none")
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-8s %d\n", k, int64(fields[k].GetNumberValue()))
	}
}

func cmdConversations(ctx context.Context, c *api.Client, req api.ConversationsRequest, jsonOut bool) {
	resp, err := c.Conversations(ctx, req)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputProto(resp)
		return
	}
	items := resp.GetFields()["conversations"].GetListValue().GetValues()
	if len(items) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, item := range items {
		f := item.GetStructValue().GetFields()
		fmt.Printf("%-6s %-6d %-24s unread=%d\n",
			f["type"].GetStringValue(),
			int64(f["id"].GetNumberValue()),
			f["name"].GetStringValue(),
			int64(f["unread"].GetNumberValue()))
	}
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.Watch(ctx, prefix, func(evt *structpb.Struct) error {
		if jsonOut {
			outputProto(evt)
			return nil
		}
		f := evt.GetFields()
		at := time.UnixMilli(int64(f["occurred_at_ms"].GetNumberValue())).Format(time.TimeOnly)
		payload, _ := json.Marshal(f["payload"].AsInterface())
		fmt.Printf("%s %-28s %s\n", at, f["kind"].GetStringValue(), payload)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fatal(err)
	}
}

func outputProto(m proto.Message) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
