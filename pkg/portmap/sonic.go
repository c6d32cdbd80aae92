package portmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/veesix-networks/dhcpmon/pkg/logger"
)

const (
	ConfigDB = 4
	StateDB  = 6

	tableVLANMember        = "VLAN_MEMBER"
	tablePortChannelMember = "PORTCHANNEL_MEMBER"
	tableMgmtPort          = "MGMT_PORT"
	tableMuxCable          = "HW_MUX_CABLE_TABLE"

	muxStateField   = "state"
	muxStateStandby = "standby"

	// Mux lookups run on the capture path for every downlink frame.
	muxLookupTimeout = 100 * time.Millisecond
	muxRetryAfter    = time.Second
)

// ErrMuxUnavailable is returned while STATE_DB lookups are failing.
var ErrMuxUnavailable = errors.New("mux state unavailable")

// SonicClient reads port membership from CONFIG_DB and mux state from
// STATE_DB on a SONiC switch. IsStandby is called from the capture
// goroutine only.
type SonicClient struct {
	config *redis.Client
	state  *redis.Client
	logger *slog.Logger

	muxTimeout   time.Duration
	now          func() time.Time
	muxDown      bool
	muxDownUntil time.Time
}

func NewSonicClient(addr string) *SonicClient {
	return &SonicClient{
		config: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   ConfigDB,
		}),
		state: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   StateDB,
		}),
		logger:     logger.Get(logger.PortMap),
		muxTimeout: muxLookupTimeout,
		now:        time.Now,
	}
}

func (c *SonicClient) Connect(ctx context.Context) error {
	if err := c.config.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("config_db: %w", err)
	}
	if err := c.state.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("state_db: %w", err)
	}
	return nil
}

func (c *SonicClient) Close() error {
	err := c.config.Close()
	if serr := c.state.Close(); err == nil {
		err = serr
	}
	return err
}

// LoadTable builds the port membership table from CONFIG_DB.
func (c *SonicClient) LoadTable(ctx context.Context) (*Table, error) {
	t := NewTable()

	for _, table := range []string{tableVLANMember, tablePortChannelMember, tableMgmtPort} {
		keys, err := scanKeys(ctx, c.config, table+"|*", 100)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		for _, key := range keys {
			applyKey(t, key)
		}
	}

	c.logger.Info("Loaded port map from CONFIG_DB", "ports", len(t.Ports()))
	return t, nil
}

// applyKey records one CONFIG_DB key in the table. Keys of unknown shape
// are skipped.
func applyKey(t *Table, key string) bool {
	table, parts := splitKey(key)
	switch table {
	case tableVLANMember:
		if len(parts) != 2 {
			return false
		}
		t.AddVLANMember(parts[0], parts[1])
	case tablePortChannelMember:
		if len(parts) != 2 {
			return false
		}
		t.AddPortChannelMember(parts[0], parts[1])
	case tableMgmtPort:
		if len(parts) != 1 {
			return false
		}
		t.AddMgmtPort(parts[0], parts[0])
	default:
		return false
	}
	return true
}

// IsStandby reads the mux cable state of port. Ports without a mux entry
// are active. After a failed lookup further lookups are skipped for
// muxRetryAfter and return ErrMuxUnavailable.
func (c *SonicClient) IsStandby(port string) (bool, error) {
	now := c.now()
	if c.muxDown && now.Before(c.muxDownUntil) {
		return false, ErrMuxUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.muxTimeout)
	defer cancel()

	state, err := c.state.HGet(ctx, tableMuxCable+"|"+port, muxStateField).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if !c.muxDown {
			c.logger.Warn("STATE_DB mux lookup failed, treating ports as active",
				"port", port, "retry_in", muxRetryAfter, "error", err)
		}
		c.muxDown = true
		c.muxDownUntil = now.Add(muxRetryAfter)
		return false, fmt.Errorf("%w: %s: %v", ErrMuxUnavailable, port, err)
	}

	if c.muxDown {
		c.logger.Info("STATE_DB mux lookups recovered")
		c.muxDown = false
	}
	if err != nil {
		return false, nil
	}
	return state == muxStateStandby, nil
}

func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
