// Command stampeded runs the order queue worker: it drains the flash-sale
// reservation stream from Redis into PostgreSQL.
//
// Configuration is read from stampeded.yaml (working directory or
// /etc/stampeded) and from STAMPEDED_* environment variables, e.g.
// STAMPEDED_REDIS_ADDR overrides redis.addr.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	kvredis "github.com/unkn0wn-root/stampede/kv/redis"
	zaplog "github.com/unkn0wn-root/stampede/log/zap"
	"github.com/unkn0wn-root/stampede/seckill"
	"github.com/unkn0wn-root/stampede/seckill/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "stampeded",
		Short:         "Flash-sale order queue worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			return run(v)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default stampeded.yaml in . or /etc/stampeded)")
	return cmd
}

func loadConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "postgres://localhost:5432/stampede")
	v.SetDefault("stream.name", seckill.DefaultStream)
	v.SetDefault("stream.group", "g1")
	v.SetDefault("stream.consumer", "c1")
	v.SetDefault("log.file", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("stampeded")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/stampeded")
	}
	v.SetEnvPrefix("STAMPEDED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// defaults + environment only
	}
	return v, nil
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	if file := v.GetString("log.file"); file != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
		})
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		return zap.New(zapcore.NewCore(enc, sink, zap.InfoLevel)), nil
	}
	return zap.NewProduction()
}

func run(v *viper.Viper) error {
	logger, err := newLogger(v)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", v.GetString("redis.addr"), err)
	}

	locks, err := kvredis.New(kvredis.Config{Client: rdb})
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, v.GetString("postgres.dsn"))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	proc, err := seckill.NewProcessor(rdb, locks, postgres.New(pool), seckill.ProcessorOptions{
		Stream:   v.GetString("stream.name"),
		Group:    v.GetString("stream.group"),
		Consumer: v.GetString("stream.consumer"),
		Logger:   zaplog.Logger{L: logger},
	})
	if err != nil {
		return err
	}

	logger.Info("stampeded starting",
		zap.String("stream", v.GetString("stream.name")),
		zap.String("group", v.GetString("stream.group")),
		zap.String("consumer", v.GetString("stream.consumer")),
	)

	err = proc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stampeded stopped")
	return nil
}
