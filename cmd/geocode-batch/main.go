// geocode-batch：按分钟限流批量报价地址清单，预热地理编码缓存并输出 CSV 结果
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"delivery-zone/internal/geocache"
	"delivery-zone/internal/geocode"
	"delivery-zone/internal/logger"
	"delivery-zone/internal/quote"
	"delivery-zone/internal/settings"
	"delivery-zone/internal/store"
	"delivery-zone/internal/utils"
)

// newMinuteLimiter：每分钟最多 perMin 次地理编码，均匀补充，突发上限 perMin
func newMinuteLimiter(perMin int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
}

// quoter：*quote.Service 满足
type quoter interface {
	Quote(ctx context.Context, address string, orderSubtotal float64) (quote.Result, error)
}

type row struct {
	seq     int
	address string
	res     quote.Result
	err     error
}

func record(r row) []string {
	out := []string{r.address, "", "", "", "", "", ""}
	if r.err != nil {
		out[6] = string(quote.KindOf(r.err))
		return out
	}
	if r.res.Disabled {
		out[6] = "disabled"
		return out
	}
	out[1] = strconv.FormatBool(r.res.WithinRange)
	out[2] = strconv.FormatFloat(r.res.DistanceKm, 'f', 3, 64)
	if r.res.WithinRange {
		out[3] = strconv.FormatFloat(r.res.Fee, 'f', 2, 64)
		if r.res.Zone != nil {
			out[4] = r.res.Zone.Name
		}
	}
	out[5] = r.res.FormattedAddress
	return out
}

// run：workers 个协程消费地址，结果按输入顺序写出
func run(ctx context.Context, q quoter, in io.Reader, out io.Writer, workers int, limiter *rate.Limiter, subtotal float64) (int, error) {
	type job struct {
		seq     int
		address string
	}
	jobs := make(chan job, workers*4)
	results := make(chan row, workers*4)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					results <- row{seq: j.seq, address: j.address, err: &quote.Error{Kind: quote.KindGeocodeTransient, Err: err}}
					continue
				}
				res, err := q.Quote(ctx, j.address, subtotal)
				if err != nil {
					logger.L().Warn("batch_quote_error", "seq", j.seq, "kind", string(quote.KindOf(err)))
				}
				results <- row{seq: j.seq, address: j.address, res: res, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	readErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 1024), 1024*1024)
		seq := 0
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			jobs <- job{seq: seq, address: line}
			seq++
		}
		readErr <- sc.Err()
	}()

	w := csv.NewWriter(out)
	_ = w.Write([]string{"address", "within_range", "distance_km", "fee", "zone", "formatted_address", "error_kind"})
	pending := map[int]row{}
	next, total := 0, 0
	for r := range results {
		pending[r.seq] = r
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			_ = w.Write(record(p))
			delete(pending, next)
			next++
			total++
		}
	}
	w.Flush()
	if err := <-readErr; err != nil {
		return total, err
	}
	return total, w.Error()
}

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	l.Info("geocode_batch_start")
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	pg := store.AttachDB(db)
	if err := pg.Ping(context.Background()); err != nil {
		l.Error("db_ping_error", "err", err)
		os.Exit(1)
	}
	st := settings.New(pg)

	workers := 4
	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			workers = n
		}
	}
	ratePerMin := 120
	if v := os.Getenv("BATCH_RATE_LIMIT_PER_MIN"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			ratePerMin = n
		}
	}
	subtotal := 0.0
	if v := os.Getenv("BATCH_ORDER_SUBTOTAL"); v != "" {
		if f, e := strconv.ParseFloat(v, 64); e == nil && f >= 0 {
			subtotal = f
		}
	}

	// 结果写入共享 Redis 层时服务端可直接命中
	geoTTL := time.Duration(utils.EnvSeconds("GEOCODE_CACHE_TTL_S", int(geocache.DefaultTTL/time.Second))) * time.Second
	mem := geocache.NewMemory(geoTTL, 0)
	defer mem.Close()
	var cache geocache.Cache = geocache.NewChain(mem)
	if rc := utils.OpenRedisFromEnv(); rc != nil {
		if err := rc.Ping(context.Background()).Err(); err == nil {
			cache = geocache.NewChain(mem, geocache.NewRedis(rc, os.Getenv("GEOCODE_CACHE_PREFIX"), geoTTL))
			defer rc.Close()
		} else {
			l.Warn("redis_ping_error", "err", err)
		}
	}
	svc := quote.New(st, geocode.NewFromEnv(), cache, quote.WithAPIKeyFallback(os.Getenv("GEOCODING_API_KEY")))

	var in io.Reader = os.Stdin
	if p := os.Getenv("BATCH_INPUT_FILE"); p != "" {
		f, e := os.Open(p)
		if e != nil {
			l.Error("input_open_error", "err", e)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	total, err := run(context.Background(), svc, in, os.Stdout, workers, newMinuteLimiter(ratePerMin), subtotal)
	if err != nil {
		l.Error("input_read_error", "err", err)
	}
	l.Info("geocode_batch_done", "total", total)
}
