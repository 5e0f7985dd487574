package connectivity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"

	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type Result struct {
	MailboxID string    `json:"mailboxId"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

type Checker struct {
	log         logger.Logger
	connections interfaces.MailboxConnectionRepository
	prober      Prober
	concurrency int
}

func NewChecker(log logger.Logger, connections interfaces.MailboxConnectionRepository, prober Prober, concurrency int) *Checker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Checker{log: log, connections: connections, prober: prober, concurrency: concurrency}
}

// CheckMailbox probes every configured protocol and records the outcome on the connection.
func (c *Checker) CheckMailbox(ctx context.Context, conn *models.MailboxConnection) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConnectivityChecker.CheckMailbox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, conn.MailboxID)

	var failures []string
	if conn.HasImap() {
		if err := c.prober.ProbeIMAP(ctx, conn); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if conn.HasSmtp() {
		if err := c.prober.ProbeSMTP(ctx, conn); err != nil {
			failures = append(failures, err.Error())
		}
	}

	res := Result{MailboxID: conn.MailboxID, OK: len(failures) == 0, CheckedAt: utils.Now()}
	if !res.OK {
		res.Reason = strings.Join(failures, "; ")
		span.SetTag("connectivity.failed", true)
		c.log.Warnf("connectivity check failed for mailbox %s: %s", conn.MailboxID, res.Reason)
	}

	conn.LastCheckedAt = utils.TimePtr(res.CheckedAt)
	conn.LastError = res.Reason
	if err := c.connections.Save(ctx, conn); err != nil {
		tracing.TraceErr(span, err)
		c.log.Errorf("failed to save connectivity result for %s: %v", conn.MailboxID, err)
	}
	return res
}

// CheckAll probes every stored connection with bounded parallelism.
func (c *Checker) CheckAll(ctx context.Context) ([]Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConnectivityChecker.CheckAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	conns, err := c.connections.List(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(conns))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, conn := range conns {
		if !conn.HasImap() && !conn.HasSmtp() {
			continue
		}
		g.Go(func() error {
			res := c.CheckMailbox(gctx, conn)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	span.LogKV("checked", len(results))
	return results, nil
}
