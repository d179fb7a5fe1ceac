package sim

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/model"
)

// benignLines are the ambient log noise every healthy environment emits.
var benignLines = []string{
	"VPC Flow: Traffic allowed from 10.0.0.5 to 10.0.0.8 (Port 443)",
	"IAM: User 'dev-operator' assumed role 'ReadOnlyAccess'",
	"CloudTrail: GetBucketEncryption on 'assets-prod'",
	"CloudWatch: Metric 'CPUUtilization' within threshold for 'web-server-01'",
	"K8s: Pod 'auth-api-5f8d' healthy heart-beat received",
	"S3: PutObject to 'audit-logs' by 'system-service'",
	"GuardDuty: No new threats detected in last 5 minutes",
	"Config: Resource 'sg-0abc123' compliant with policy 'restricted-ssh'",
}

// Background publishes benign telemetry lines to the feed on a jittered
// interval so observers see continuous log flow between incidents. Events
// are tagged is_background and never belong to a run.
type Background struct {
	hub *hub.Hub

	// interval bounds for the jittered sleep between lines.
	minDelay time.Duration
	maxDelay time.Duration
}

// NewBackground creates the background publisher with the default 2-5s
// cadence.
func NewBackground(h *hub.Hub) *Background {
	return &Background{hub: h, minDelay: 2 * time.Second, maxDelay: 5 * time.Second}
}

// Run publishes until ctx is done. Always returns ctx.Err().
func (b *Background) Run(ctx context.Context) error {
	for {
		delay := b.minDelay + rand.N(b.maxDelay-b.minDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		ev := model.NewProgress(uuid.Nil, model.AgentTelemetry,
			"scanning", benignLines[rand.IntN(len(benignLines))], "low")
		ev.IsBackground = true
		b.hub.Publish(ev)
	}
}
