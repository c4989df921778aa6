// Package app wires configuration and AWS clients into the fulfillment
// components shared by the API and the worker.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/audit"
	"github.com/MedLarabi/compucar-sub005/internal/aws"
	"github.com/MedLarabi/compucar-sub005/internal/config"
	"github.com/MedLarabi/compucar-sub005/internal/customers"
	"github.com/MedLarabi/compucar-sub005/internal/files"
	"github.com/MedLarabi/compucar-sub005/internal/idempotency"
	"github.com/MedLarabi/compucar-sub005/internal/metrics"
	"github.com/MedLarabi/compucar-sub005/internal/notify"
	"github.com/MedLarabi/compucar-sub005/internal/objectkey"
	"github.com/MedLarabi/compucar-sub005/internal/orders"
	"github.com/MedLarabi/compucar-sub005/internal/presign"
	"github.com/MedLarabi/compucar-sub005/internal/shipping"
	"github.com/MedLarabi/compucar-sub005/internal/webhook"
)

// Telegram operator roles.
const (
	RoleFileAdmin  = "file_admin"
	RoleSuperAdmin = "super_admin"
)

var (
	fileAdminKinds  = []notify.Kind{notify.KindFileSubmitted, notify.KindFileReceived, notify.KindFilePending, notify.KindFileReady}
	superAdminKinds = []notify.Kind{notify.KindFileSubmitted, notify.KindFileReady, notify.KindShipmentUpdated}
)

// App holds the wired components. Exactly one of Prometheus and CloudWatch
// is set unless metrics are disabled.
type App struct {
	Metrics    metrics.Recorder
	Prometheus *metrics.Prometheus
	CloudWatch *metrics.CloudWatch
	Files      *files.Engine
	Shipping   *shipping.Engine
	Processor  *webhook.Processor
	Dispatcher *notify.Dispatcher
}

// Build constructs every component from cfg and clients.
func Build(cfg *config.Config, clients *aws.AWSClients, log zerolog.Logger) *App {
	a := &App{}
	switch cfg.MetricsBackend {
	case config.MetricsPrometheus:
		a.Prometheus = metrics.NewPrometheus()
		a.Metrics = a.Prometheus
	case config.MetricsCloudWatch:
		a.CloudWatch = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, log)
		a.Metrics = a.CloudWatch
	default:
		a.Metrics = metrics.Nop{}
	}

	a.Dispatcher = notify.NewDispatcher(log, a.Metrics, cfg.NotifyTimeout, Notifiers(cfg, clients.SES)...)
	directory := customers.NewStore(clients.DynamoDB, cfg.UsersTable)

	a.Files = files.NewEngine(files.Deps{
		Store: files.NewStore(clients.DynamoDB, cfg.FilesTable),
		Keys:  objectkey.New(),
		Access: presign.NewIssuer(clients.Presign, clients.S3, presign.Options{
			Bucket:         cfg.Bucket,
			PublicBaseURL:  cfg.PublicBaseURL,
			TTL:            cfg.PresignTTL,
			MaxUploadBytes: cfg.MaxUploadBytes,
			ContentTypes:   cfg.AllowedContentTypes,
		}),
		Audit:        audit.NewLogger(audit.NewStore(clients.DynamoDB, cfg.AuditTable), log, a.Metrics),
		Notify:       a.Dispatcher,
		Customers:    directory,
		Metrics:      a.Metrics,
		Log:          log,
		DashboardURL: cfg.DashboardBaseURL,
	})

	a.Shipping = shipping.NewEngine(orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.ParcelsTable), a.Dispatcher, directory, log)
	a.Processor = webhook.NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.CarrierEventsTable, cfg.CarrierEventRetention),
		a.Shipping, a.Metrics, log,
	)
	return a
}

// Notifiers returns the channels enabled by cfg. A Telegram role without a
// token or chat id and email without a sender are left out.
func Notifiers(cfg *config.Config, ses aws.SESAPI) []notify.Notifier {
	var out []notify.Notifier
	if cfg.FileAdminBotToken != "" && cfg.FileAdminChatID != "" {
		c := notify.NewTelegramClient(cfg.TelegramAPIBase, cfg.FileAdminBotToken)
		out = append(out, notify.NewOperatorNotifier(RoleFileAdmin, c, cfg.FileAdminChatID, cfg.CallbackPrefix, fileAdminKinds...))
	}
	if cfg.SuperAdminBotToken != "" && cfg.SuperAdminChatID != "" {
		c := notify.NewTelegramClient(cfg.TelegramAPIBase, cfg.SuperAdminBotToken)
		out = append(out, notify.NewOperatorNotifier(RoleSuperAdmin, c, cfg.SuperAdminChatID, cfg.CallbackPrefix, superAdminKinds...))
	}
	if cfg.CustomerBotToken != "" {
		out = append(out, notify.NewCustomerNotifier(notify.NewTelegramClient(cfg.TelegramAPIBase, cfg.CustomerBotToken)))
	}
	if cfg.EmailFrom != "" && ses != nil {
		out = append(out, notify.NewEmailNotifier(ses, cfg.EmailFrom))
	}
	return out
}

// Queue returns the webhook queue selected by cfg. The memory queue feeds
// the processor in-process; the SQS queue leaves that to the worker.
func (a *App) Queue(cfg *config.Config, clients *aws.AWSClients, log zerolog.Logger) (webhook.Queue, error) {
	switch cfg.WebhookQueue {
	case config.QueueMemory:
		return webhook.NewMemoryQueue(cfg.WebhookQueueSize, cfg.WebhookWorkers, a.Processor, log), nil
	case config.QueueSQS:
		return webhook.NewSQSQueue(aws.NewPublisher(clients.SQS, cfg.WebhookQueueURL)), nil
	}
	return nil, fmt.Errorf("unknown webhook queue %q", cfg.WebhookQueue)
}

// RunMetrics flushes CloudWatch metrics until ctx is done. It is a no-op for
// other backends.
func (a *App) RunMetrics(ctx context.Context, cfg *config.Config) {
	if a.CloudWatch != nil {
		a.CloudWatch.Run(ctx, cfg.MetricsFlush)
	}
}
