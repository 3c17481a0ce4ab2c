// cmd/signals evaluates stored candle series offline and prints the enter and
// exit signals. With --speed the candles are replayed through the streaming
// path instead of the batch one; with --publish they are fed to Redis for a
// running sigengine.
//
// Usage:
//
//	go run ./cmd/signals --db=data/signals.db --exchange=binance --pair=BTC/USDT --tf=5m
//	go run ./cmd/signals --all --write
//	go run ./cmd/signals --speed=100 --pair=ETH/USDT
//	go run ./cmd/signals --publish --redis=localhost:6379 --speed=60
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/marketdata/replay"
	"signal-enginev1/internal/model"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
	"signal-enginev1/internal/strategy"
)

type options struct {
	db       string
	exchange string
	pair     string
	tf       string
	strategy string
	from     int64
	all      bool
	write    bool
	speed    float64
	publish  bool
	redis    string
	jsonOut  bool
	verbose  bool
}

func main() {
	var o options
	pflag.StringVar(&o.db, "db", "data/signals.db", "Path to SQLite database")
	pflag.StringVar(&o.exchange, "exchange", "binance", "Exchange of the series")
	pflag.StringVar(&o.pair, "pair", "BTC/USDT", "Pair of the series")
	pflag.StringVar(&o.tf, "tf", "5m", "Timeframe of the series")
	pflag.StringVar(&o.strategy, "strategy", "", "Strategy YAML file (default: built-in strategy)")
	pflag.Int64Var(&o.from, "from", 0, "Only candles after this unix timestamp (0=all)")
	pflag.BoolVar(&o.all, "all", false, "Evaluate every series stored in the database")
	pflag.BoolVar(&o.write, "write", false, "Persist evaluated rows to the signals table")
	pflag.Float64Var(&o.speed, "speed", -1, "Replay through the streaming path at this speed (0=max, 1=realtime); negative evaluates in batch")
	pflag.BoolVar(&o.publish, "publish", false, "Publish replayed candles to Redis instead of evaluating them")
	pflag.StringVar(&o.redis, "redis", "localhost:6379", "Redis address for --publish")
	pflag.BoolVar(&o.jsonOut, "json", false, "Print signal rows as JSON lines")
	pflag.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging")
	pflag.Parse()

	level := logger.ParseLevel("warn")
	if o.verbose {
		level = logger.ParseLevel("debug")
	}
	logger.Init("signals", level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, "signals:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	cfg, err := strategy.LoadConfig(o.strategy)
	if err != nil {
		return err
	}
	engine, err := strategy.NewEngine(cfg)
	if err != nil {
		return err
	}

	reader, err := sqlitestore.NewReader(o.db)
	if err != nil {
		return err
	}
	defer reader.Close()

	metas := []model.Metadata{{Exchange: o.exchange, Pair: o.pair, Timeframe: o.tf}}
	if o.all {
		if metas, err = reader.ListSeries(); err != nil {
			return err
		}
	}

	switch {
	case o.publish:
		return publish(ctx, o, reader, metas)
	case o.speed >= 0:
		return stream(ctx, o, engine, reader, metas)
	default:
		return batch(ctx, o, engine, reader, metas)
	}
}

// batch evaluates every series at once.
func batch(ctx context.Context, o options, engine *strategy.Engine, reader *sqlitestore.Reader, metas []model.Metadata) error {
	series := make([]model.Series, 0, len(metas))
	for _, m := range metas {
		s, err := reader.ReadSeries(m, o.from)
		if err != nil {
			return err
		}
		series = append(series, s)
	}

	start := time.Now()
	frames, err := engine.EvaluateAll(ctx, series)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	var rows [][]model.SignalRow
	for _, f := range frames {
		r := f.Rows()
		rows = append(rows, r)
		enter, exit := f.Counts()
		printRows(o, r)
		printSummary(f.Meta, f.Len(), enter, exit)
	}
	fmt.Printf("evaluated %d series in %s\n", len(frames), elapsed.Round(time.Microsecond))

	if o.write {
		return writeRows(ctx, o.db, metas, rows)
	}
	return nil
}

// stream replays each series through a strategy.Runner, as the live service
// would see it.
func stream(ctx context.Context, o options, engine *strategy.Engine, reader *sqlitestore.Reader, metas []model.Metadata) error {
	rp := replay.New(reader)
	var all [][]model.SignalRow

	for _, m := range metas {
		runner := strategy.NewRunner(engine.NewStream(m), 1000)
		runner.Blocking = true
		candleCh := make(chan model.Candle, 1000)

		var g errgroup.Group
		g.Go(func() error {
			defer close(candleCh)
			_, err := rp.Run(ctx, m, o.from, o.speed, candleCh)
			return err
		})
		g.Go(func() error {
			runner.Run(ctx, candleCh)
			return nil
		})

		var rows []model.SignalRow
		enter, exit := 0, 0
		for row := range runner.Rows() {
			rows = append(rows, row)
			if row.Enter {
				enter++
			}
			if row.Exit {
				exit++
			}
			printRows(o, []model.SignalRow{row})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if runner.Rejected() > 0 {
			fmt.Printf("%s: %d candles rejected\n", m.Key(), runner.Rejected())
		}
		printSummary(m, len(rows), enter, exit)
		all = append(all, rows)
	}

	if o.write {
		return writeRows(ctx, o.db, metas, all)
	}
	return nil
}

// publish replays stored candles onto the Redis candle streams.
func publish(ctx context.Context, o options, reader *sqlitestore.Reader, metas []model.Metadata) error {
	w, err := redisstore.New(redisstore.WriterConfig{Addr: o.redis})
	if err != nil {
		return err
	}
	defer w.Close()

	speed := o.speed
	if speed < 0 {
		speed = 0
	}
	rp := replay.New(reader)
	for _, m := range metas {
		candleCh := make(chan model.Candle, 1000)
		var g errgroup.Group
		g.Go(func() error {
			defer close(candleCh)
			_, err := rp.Run(ctx, m, o.from, speed, candleCh)
			return err
		})

		n := 0
		for c := range candleCh {
			ev := model.CandleEvent{Meta: m, Candle: c}
			if err := w.PublishCandle(ctx, &ev); err != nil {
				return err
			}
			n++
		}
		if err := g.Wait(); err != nil {
			return err
		}
		fmt.Printf("%s: published %d candles to %s\n", m.Key(), n, redisstore.CandleStreamKey(m))
	}
	return nil
}

func writeRows(ctx context.Context, dbPath string, metas []model.Metadata, rows [][]model.SignalRow) error {
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath})
	if err != nil {
		return err
	}
	defer w.Close()
	for i, m := range metas {
		if err := w.WriteRows(ctx, m, rows[i]); err != nil {
			return fmt.Errorf("write %s: %w", m.Key(), err)
		}
		slog.Info("[signals] rows written", "series", m.Key(), "rows", len(rows[i]))
	}
	return nil
}

func printRows(o options, rows []model.SignalRow) {
	for i := range rows {
		r := &rows[i]
		if !r.Enter && !r.Exit {
			continue
		}
		if o.jsonOut {
			b, _ := json.Marshal(r)
			fmt.Println(string(b))
			continue
		}
		kind := "ENTER"
		if r.Exit {
			kind = "EXIT"
			if r.Enter {
				kind = "ENTER+EXIT"
			}
		}
		fmt.Printf("  [%s] %-10s %s close=%.4f rsi=%s\n",
			r.TS.Format(time.RFC3339), kind, r.Meta.Key(), r.Close, fmtPtr(r.RSI))
	}
}

func printSummary(m model.Metadata, n, enter, exit int) {
	fmt.Printf("%s: %d candles, %d enter, %d exit\n", m.Key(), n, enter, exit)
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.2f", *v)
}
