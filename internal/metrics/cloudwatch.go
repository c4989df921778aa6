package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// maxDatumsPerCall stays well under the PutMetricData request limit.
const maxDatumsPerCall = 500

type datumKey struct {
	name string
	dims string // "k=v,k=v", sorted
}

// CloudWatch aggregates counters in memory and ships them with Flush.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	log       zerolog.Logger

	mu     sync.Mutex
	counts map[datumKey]float64
	dims   map[datumKey][]cwtypes.Dimension
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, log zerolog.Logger) *CloudWatch {
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       log.With().Str("component", "cloudwatch-metrics").Logger(),
		counts:    map[datumKey]float64{},
		dims:      map[datumKey][]cwtypes.Dimension{},
	}
}

func (c *CloudWatch) Transition(from, to string) {
	c.add("FileStatusTransitions", "From", from, "To", to)
}

func (c *CloudWatch) Notification(channel, outcome string) {
	c.add("Notifications", "Channel", channel, "Outcome", outcome)
}

func (c *CloudWatch) WebhookEvent(carrier, outcome string) {
	c.add("CarrierWebhookEvents", "Carrier", carrier, "Outcome", outcome)
}

func (c *CloudWatch) AuditFailure() { c.add("AuditWriteFailures") }

func (c *CloudWatch) add(name string, kv ...string) {
	dims := make([]cwtypes.Dimension, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		dims = append(dims, cwtypes.Dimension{Name: sdkaws.String(kv[i]), Value: sdkaws.String(kv[i+1])})
	}
	sort.Slice(dims, func(i, j int) bool { return *dims[i].Name < *dims[j].Name })
	key := datumKey{name: name}
	for _, d := range dims {
		key.dims += *d.Name + "=" + *d.Value + ","
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	c.dims[key] = dims
}

// Flush sends and resets the accumulated counters. Counters are restored
// if the call fails so the next flush retries them.
func (c *CloudWatch) Flush(ctx context.Context) error {
	c.mu.Lock()
	counts, dims := c.counts, c.dims
	c.counts = map[datumKey]float64{}
	c.dims = map[datumKey][]cwtypes.Dimension{}
	c.mu.Unlock()

	if len(counts) == 0 {
		return nil
	}

	now := time.Now()
	data := make([]cwtypes.MetricDatum, 0, len(counts))
	keys := make([]datumKey, 0, len(counts))
	for k, v := range counts {
		keys = append(keys, k)
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(k.name),
			Dimensions: dims[k],
			Value:      sdkaws.Float64(v),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  sdkaws.Time(now),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(c.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			c.restore(keys[start:], counts, dims)
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func (c *CloudWatch) restore(keys []datumKey, counts map[datumKey]float64, dims map[datumKey][]cwtypes.Dimension) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.counts[k] += counts[k]
		c.dims[k] = dims[k]
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *CloudWatch) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				c.log.Error().Err(err).Msg("final metrics flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.Warn().Err(err).Msg("metrics flush failed")
			}
		}
	}
}
