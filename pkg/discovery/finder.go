package discovery

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/logging"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// Finder retry defaults.
const (
	DefaultFindInitialInterval = 250 * time.Millisecond
	DefaultFindMaxInterval     = 5 * time.Second
	DefaultFindMaxElapsedTime  = 2 * time.Minute
)

// FinderConfig configures a Finder.
type FinderConfig struct {
	// Resolver performs the individual lookups. Required.
	Resolver *Resolver

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// MaxElapsedTime bounds the whole search. Zero means the default,
	// negative means no bound other than ctx.
	MaxElapsedTime time.Duration

	// LookupTimeout bounds each attempt. Zero uses the resolver's timeout.
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Finder repeats operational lookups with exponential backoff until the node
// shows up. A freshly commissioned node may need some time to join the
// operational network and start advertising.
type Finder struct {
	config FinderConfig
	log    logging.LeveledLogger
}

// NewFinder creates a Finder. It panics if config.Resolver is nil.
func NewFinder(config FinderConfig) *Finder {
	if config.Resolver == nil {
		panic("discovery: FinderConfig.Resolver is required")
	}
	if config.InitialInterval == 0 {
		config.InitialInterval = DefaultFindInitialInterval
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = DefaultFindMaxInterval
	}
	if config.MaxElapsedTime == 0 {
		config.MaxElapsedTime = DefaultFindMaxElapsedTime
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = &logging.DefaultLoggerFactory{
			Writer:          io.Discard,
			DefaultLogLevel: logging.LogLevelDisabled,
		}
	}
	return &Finder{
		config: config,
		log:    config.LoggerFactory.NewLogger("finder"),
	}
}

// Find resolves the node, retrying while it is not (yet) advertised. Errors
// other than not-found and timeout end the search immediately.
func (f *Finder) Find(ctx context.Context, compressedFabricID [fabric.CompressedFabricIDSize]byte, nodeID fabric.NodeID) (*OperationalNode, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.config.InitialInterval
	bo.MaxInterval = f.config.MaxInterval
	if f.config.MaxElapsedTime > 0 {
		bo.MaxElapsedTime = f.config.MaxElapsedTime
	} else {
		bo.MaxElapsedTime = 0
	}

	var node *OperationalNode
	attempt := 0
	op := func() error {
		attempt++
		lookupCtx := ctx
		if f.config.LookupTimeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, f.config.LookupTimeout)
			defer cancel()
		}
		n, err := f.config.Resolver.LookupOperational(lookupCtx, compressedFabricID, nodeID)
		if err == nil {
			node = n
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrServiceNotFound) || errors.Is(err, ErrTimeout) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		f.log.Debugf("find %s attempt %d: %v, retrying in %v",
			OperationalInstanceName(compressedFabricID, nodeID), attempt, err, wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	f.log.Infof("found node %016X after %d attempt(s)", uint64(nodeID), attempt)
	return node, nil
}
