// settings-kv：设置表交互式控制台（读取合并视图、写入、列出）
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"delivery-zone/internal/migrate"
	"delivery-zone/internal/model"
	"delivery-zone/internal/notify"
	"delivery-zone/internal/settings"
	"delivery-zone/internal/store"
	"delivery-zone/internal/utils"
)

// lister：store.Postgres 与 store.Memory 满足
type lister interface {
	ListSettings(ctx context.Context) ([]settings.Setting, error)
}

type console struct {
	st   *settings.Store
	rows lister
	out  io.Writer
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  get <key>            merged value (stored over defaults)")
	fmt.Fprintln(w, "  set <key> <json>     upsert stored value")
	fmt.Fprintln(w, "  zones                active zone table")
	fmt.Fprintln(w, "  list                 stored rows")
	fmt.Fprintln(w, "  help")
	fmt.Fprintln(w, "  exit")
}

// exec：执行一行命令；返回 false 表示退出
func (c *console) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	parts := strings.SplitN(line, " ", 3)
	switch strings.ToLower(parts[0]) {
	case "exit", "quit":
		return false
	case "help":
		printHelp(c.out)
	case "get":
		if len(parts) < 2 {
			fmt.Fprintln(c.out, "usage: get <key>")
			return true
		}
		snap, err := c.st.Refresh(ctx, parts[1])
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		var pretty strings.Builder
		enc := json.NewEncoder(&pretty)
		enc.SetIndent("", "  ")
		var v any
		_ = json.Unmarshal(snap.Value, &v)
		_ = enc.Encode(v)
		fmt.Fprintf(c.out, "%s (stored=%v updated_at=%s)\n%s", parts[1], snap.Stored, snap.UpdatedAt.Format(time.RFC3339), pretty.String())
	case "set":
		if len(parts) < 3 {
			fmt.Fprintln(c.out, "usage: set <key> <json>")
			return true
		}
		if err := c.check(parts[1], json.RawMessage(parts[2])); err != nil {
			fmt.Fprintln(c.out, "invalid:", err)
			return true
		}
		saved, err := c.st.Upsert(ctx, parts[1], json.RawMessage(parts[2]))
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		fmt.Fprintln(c.out, "ok", saved.UpdatedAt.Format(time.RFC3339Nano))
	case "zones":
		zs, err := c.st.DeliveryZones(ctx)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMAX_KM\tFEE\tETA\tACTIVE")
		for _, z := range zs {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%s\t%v\n", z.ID, z.Name, z.MaxDistanceKm, z.DeliveryFee, z.EstimatedTimeText, z.IsActive)
		}
		tw.Flush()
	case "list":
		rows, err := c.rows.ListSettings(ctx)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		if len(rows) == 0 {
			fmt.Fprintln(c.out, "none")
		}
		for _, r := range rows {
			fmt.Fprintf(c.out, "%s  %s  %d bytes\n", r.Key, r.UpdatedAt.Format(time.RFC3339), len(r.Value))
		}
	default:
		fmt.Fprintln(c.out, "unknown command")
	}
	return true
}

// check：写入前按读取时的规则校验
func (c *console) check(key string, v json.RawMessage) error {
	merged, err := c.st.Preview(key, v)
	if err != nil {
		return err
	}
	switch key {
	case model.KeyDeliverySettings:
		_, err = settings.DecodeDeliverySettings(merged)
	case model.KeyDeliveryZones:
		_, err = settings.DecodeDeliveryZones(merged)
	}
	return err
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	s, _ := r.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func main() {
	var envFile string
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--env" && i+1 < len(os.Args) {
			envFile = os.Args[i+1]
			i++
		} else if strings.HasSuffix(os.Args[i], ".env") {
			envFile = os.Args[i]
		}
	}
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		r := bufio.NewReader(os.Stdin)
		fmt.Println("输入数据库连接参数，回车使用默认值")
		os.Setenv("PG_HOST", prompt(r, "PG_HOST", "127.0.0.1"))
		os.Setenv("PG_PORT", prompt(r, "PG_PORT", "5432"))
		os.Setenv("PG_USER", prompt(r, "PG_USER", "postgres"))
		os.Setenv("PG_PASSWORD", prompt(r, "PG_PASSWORD", ""))
		os.Setenv("PG_DB", prompt(r, "PG_DB", "delivery"))
		os.Setenv("PG_SSLMODE", prompt(r, "PG_SSLMODE", "disable"))
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		fmt.Println("db error:", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(db); err != nil {
		fmt.Println("schema error:", err)
		os.Exit(1)
	}
	ctx := context.Background()
	pg := store.AttachDB(db)
	var opts []settings.Option
	// 数据库触发器已覆盖 postgres 通知；redis 通知需要显式广播
	if strings.ToLower(os.Getenv("NOTIFY_BACKEND")) == "redis" {
		if rc := utils.OpenRedisFromEnv(); rc != nil {
			if n, err := notify.NewRedis(ctx, rc, os.Getenv("NOTIFY_CHANNEL")); err == nil {
				defer n.Close()
				opts = append(opts, settings.WithNotifier(n))
			} else {
				fmt.Println("redis notify disabled:", err)
			}
		}
	}
	c := &console{st: settings.New(pg, opts...), rows: pg, out: os.Stdout}
	fmt.Println("settings kv cli ready")
	printHelp(os.Stdout)
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 4096), 1<<20)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		if !c.exec(ctx, in.Text()) {
			return
		}
	}
}
