// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package imagebuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Lease grants one caller at a time the right to build a key.
type Lease interface {
	// Acquire tries to take the lease for key. When acquired is true the
	// caller must call release once the build finishes.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX and a TTL.
type RedisLease struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisLease connects to the server at url, e.g. redis://host:6379/0.
func NewRedisLease(url string) (*RedisLease, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisLease{Client: redis.NewClient(opts), Prefix: "remote-exec:build:"}, nil
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	name := l.Prefix + key
	token := uuid.NewString()

	ok, err := l.Client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire build lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The build context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.Client, []string{name}, token).Err(); err != nil {
			logrus.Warnf("Failed to release build lease %s: %v", name, err)
		}
	}
	return release, true, nil
}
