/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package health

//go:generate mockgen -destination=mock_health.go -package=health github.com/carverauto/posedge/pkg/health Registry,Prober

import (
	"context"
	"time"

	"github.com/carverauto/posedge/pkg/models"
)

// Registry is the device registry the monitor reads and updates.
type Registry interface {
	ListDevices(ctx context.Context) ([]models.DeviceProfile, error)
	GetDevice(ctx context.Context, id string) (*models.DeviceProfile, error)
	UpdateDeviceOnlineStatus(ctx context.Context, id string, online bool, checkedAt time.Time) error
}

// Prober checks whether a device is reachable.
type Prober interface {
	Probe(ctx context.Context, ep models.Endpoint, timeout time.Duration) bool
}
