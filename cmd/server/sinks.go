package main

import (
	"context"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-api/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-api/internal/export"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// buildSinks creates one export sink per configured destination. The
// returned close func releases client connections.
func buildSinks(ctx context.Context, L log.Logger, conf cfg.App) ([]export.Sink, func(), error) {
	var sinks []export.Sink
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if conf.ExportFile != "" {
		sinks = append(sinks, export.NewFileSink(conf.ExportFile))
	}

	if conf.ExportRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         conf.ExportRedisAddr,
			DialTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		closers = append(closers, func() { _ = rdb.Close() })

		// an unreachable redis at startup is not fatal, writes are retried every interval
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			L.Warn(ctx, "redis export sink unreachable", "addr", conf.ExportRedisAddr, "err", err)
		}
		cancel()

		sinks = append(sinks, export.NewRedisSink(rdb,
			export.WithRedisKey(conf.ExportRedisKey),
			export.WithRedisTTL(conf.ExportRedisTTL),
		))
	}

	if conf.ExportS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			closeAll()
			return nil, func() {}, xerrors.Wrap(err, "load aws config")
		}
		sinks = append(sinks, export.NewS3Sink(s3.NewFromConfig(awsCfg), conf.ExportS3Bucket, conf.ExportS3Prefix))
	}

	if len(sinks) > 0 {
		names := make([]string, 0, len(sinks))
		for _, s := range sinks {
			names = append(names, s.Name())
		}
		L.Info(ctx, "metrics export configured", "sinks", names, "interval", conf.ExportInterval)
	}
	return sinks, closeAll, nil
}
