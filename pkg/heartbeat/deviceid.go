package heartbeat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
)

// DeviceIDKey holds the installation identifier in the kv store.
const DeviceIDKey = "device_id"

const suffixLen = 8

// DeviceIDResolver loads the installation identifier, generating and
// persisting one the first time. The value is cached for the process
// lifetime.
type DeviceIDResolver struct {
	kv       kv.Store
	hostname func(ctx context.Context) string
	logger   logger.Logger

	mu     sync.Mutex
	cached string
}

func NewDeviceIDResolver(store kv.Store, log logger.Logger) *DeviceIDResolver {
	return &DeviceIDResolver{
		kv:       store,
		hostname: hostname,
		logger:   log,
	}
}

// Resolve returns the cached id, the persisted one, or a new
// "<hostname>-<8 hex>" id, in that order.
func (r *DeviceIDResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		return r.cached, nil
	}

	raw, found, err := r.kv.Get(ctx, DeviceIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	if id := strings.TrimSpace(string(raw)); found && id != "" {
		r.cached = id
		return id, nil
	}

	id := r.hostname(ctx) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]

	if err := r.kv.Put(ctx, DeviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}

	r.logger.Info().Str("device_id", id).Msg("Generated installation device id")

	r.cached = id

	return id, nil
}

func hostname(ctx context.Context) string {
	name := ""

	if info, err := host.InfoWithContext(ctx); err == nil {
		name = info.Hostname
	}

	if name == "" {
		name, _ = os.Hostname()
	}

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "posedge"
	}

	return strings.ReplaceAll(name, " ", "-")
}
