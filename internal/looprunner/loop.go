// Package looprunner is the loop driver (§4.9, C9): runs the downloader
// then the builder in sequence every LoopInterval, logging and sleeping
// through unrecoverable errors so the next tick resumes from the last
// committed marker. Grounded on the original's main.rs block_check_loop.
package looprunner

import (
	"context"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/builder"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/config"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/downloader"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/nodeclient"
)

var log = logx.NewModuleLogger(logx.ModuleLoop)

var tickTimer = metrics.GetOrRegisterTimer("agent/loop/tickDuration", nil)

// Loop owns one downloader/builder pair and the node client that supplies
// the best hash each downloader pass starts from.
type Loop struct {
	Client     *nodeclient.Client
	Downloader *downloader.Downloader
	Builder    *builder.Builder

	lastBuiltHash string
}

// Run executes the downloader/builder cycle forever until ctx is cancelled.
// Every HTTP call and DB operation inside a cycle may suspend; a failure in
// either stage is logged and the loop sleeps LoopInterval before retrying
// from the node's then-current best hash (§4.9, §7).
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(config.LoopInterval):
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	defer tickTimer.UpdateSince(time.Now())

	status, err := l.Client.Status(ctx)
	if err != nil {
		log.Error("failed to fetch node status", "err", err)
		return
	}

	startHash := status.BestHash
	targetHash := l.lastBuiltHash
	if targetHash == "" {
		targetHash = status.GenesisHash
	}

	if err := l.Downloader.SaveDiff(ctx, startHash, targetHash); err != nil {
		log.Error("downloader pass failed", "err", err)
		return
	}

	for {
		built, err := l.Builder.RunOnce(ctx)
		if err != nil {
			log.Error("builder pass failed", "err", err)
			return
		}
		if !built {
			break
		}
	}

	l.lastBuiltHash = status.BestHash
}
