package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/dm-campaign-engine/internal/auth"
	"github.com/acme/dm-campaign-engine/internal/config"
	"github.com/acme/dm-campaign-engine/internal/infra/db"
	"github.com/acme/dm-campaign-engine/internal/infra/redis"
	"github.com/acme/dm-campaign-engine/internal/queue"
	"github.com/acme/dm-campaign-engine/internal/repository"
	pgrepo "github.com/acme/dm-campaign-engine/internal/repository/postgres"
	scyllarepo "github.com/acme/dm-campaign-engine/internal/repository/scylla"
	"github.com/acme/dm-campaign-engine/internal/sender"
	sendermock "github.com/acme/dm-campaign-engine/internal/sender/mock"
	campaignsvc "github.com/acme/dm-campaign-engine/internal/service/campaign"
	"github.com/acme/dm-campaign-engine/internal/service/concurrency"
	dispatchsvc "github.com/acme/dm-campaign-engine/internal/service/dispatch"
	metricssvc "github.com/acme/dm-campaign-engine/internal/service/metrics"
	"github.com/acme/dm-campaign-engine/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		senders      *sender.Registry
		authorizer   *auth.Authorizer
	}
}

type repositories struct {
	Campaigns repository.CampaignRepository
	Platforms repository.PlatformDirectory
	Stats     repository.CampaignStatisticsRepository
	Messages  repository.MessageStore
}

type services struct {
	Campaign *campaignsvc.Service
	Dispatch *dispatchsvc.Service
	Metrics  *metricssvc.Service
}

type publishers struct {
	Dispatch *queue.DispatchPublisher
	Status   *queue.StatusPublisher
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns: pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Platforms: pgrepo.NewPlatformRepository(c.Postgres.DB()),
			Stats:     pgrepo.NewCampaignStatisticsRepository(c.Postgres.DB()),
			Messages:  scyllarepo.NewMessageStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Dispatch: queue.NewDispatchPublisher(c.Kafka, c.Config.Kafka.DispatchTopic),
			Status:   queue.NewStatusPublisher(c.Kafka, c.Config.Kafka.StatusTopic),
		}

		registry := sender.NewRegistry(sendermock.New(c.Config.Sender))
		authorizer := auth.NewAuthorizer(repos.Platforms)
		limiter := concurrency.NewRedisFrequencyLimiter(c.Redis.Inner(), c.Config.Frequency.Period)

		svcs := &services{
			Campaign: campaignsvc.NewService(repos.Campaigns, repos.Stats, repos.Messages, authorizer),
			Dispatch: dispatchsvc.NewService(
				repos.Campaigns,
				repos.Messages,
				repos.Stats,
				repos.Platforms,
				registry,
				limiter,
				authorizer,
				c.Config.Sender.RequestTimeout,
			),
			Metrics: metricssvc.NewService(repos.Campaigns, repos.Messages, authorizer),
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = svcs
		c.components.senders = registry
		c.components.authorizer = authorizer
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Senders exposes the platform sender registry.
func (c *Container) Senders() *sender.Registry {
	c.initComponents()
	return c.components.senders
}

// Authorizer exposes the capability checker.
func (c *Container) Authorizer() *auth.Authorizer {
	c.initComponents()
	return c.components.authorizer
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{
		c.Config.Kafka.DispatchTopic,
		c.Config.Kafka.StatusTopic,
		c.Config.Kafka.EventsTopic,
	}
	return c.Kafka.EnsureTopics(ctx, topics, 48, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.Dispatch != nil {
			if err := p.Dispatch.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dispatch publisher close: %w", err))
			}
		}
		if p.Status != nil {
			if err := p.Status.Close(); err != nil {
				errs = append(errs, fmt.Errorf("status publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
