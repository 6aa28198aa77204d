package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/restoreassist/trial-engine/pkg/config"
)

// IdentityType classifies the caller for limit selection.
type IdentityType int

const (
	IdentityAnonymous IdentityType = iota
	IdentityAuthenticated
)

// Rule is the resolved limit for one endpoint and identity class.
type Rule struct {
	Limit  int
	Burst  int
	Window time.Duration
}

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed      bool
	Remaining    int
	RetryAfter   time.Duration
	Limit        int
	Window       time.Duration
	ResetAfter   time.Duration
	IdentityKey  string
	EndpointKey  string
	IdentityType IdentityType
}

// gcraScript implements GCRA (generic cell rate algorithm) in Redis. The
// bucket key stores the theoretical arrival time (TAT) of the next request.
// Floats travel as strings because Redis truncates Lua numbers to integers.
//
// KEYS[1] = bucket key
// ARGV[1] = now, unix seconds
// ARGV[2] = emission interval, seconds per request
// ARGV[3] = burst offset, seconds of headroom
// ARGV[4] = key TTL, whole seconds
//
// Returns {allowed, remaining, retry_after, reset_after}.
const gcraScript = `
local tat = tonumber(redis.call("GET", KEYS[1]))
local now = tonumber(ARGV[1])
local emission = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

if not tat or tat < now then
  tat = now
end

local new_tat = tat + emission
local allow_at = new_tat - burst

if now < allow_at then
  return {0, 0, tostring(allow_at - now), tostring(tat - now)}
end

redis.call("SET", KEYS[1], tostring(new_tat), "EX", ttl)

local remaining = math.floor((now - (new_tat - burst)) / emission)
if remaining < 0 then
  remaining = 0
end

return {1, remaining, "0", tostring(new_tat - now)}
`

// Limiter enforces per-endpoint request budgets backed by Redis.
type Limiter struct {
	client *redis.Client
	script *redis.Script
	now    func() time.Time
	cfg    config.RateLimitConfig
}

// NewLimiter builds a limiter around the shared Redis client.
func NewLimiter(client *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client: client,
		script: redis.NewScript(gcraScript),
		now:    time.Now,
		cfg:    cfg,
	}
}

// WithNow swaps the clock. Used by tests to pin time.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// RuleFor resolves the limit for an endpoint and identity class. Endpoint
// overrides win over the global defaults; an override's burst applies as-is
// so a zero burst can be configured deliberately.
func (l *Limiter) RuleFor(endpoint string, identity IdentityType) Rule {
	rule := Rule{
		Limit:  l.cfg.DefaultLimit,
		Burst:  l.cfg.DefaultBurst,
		Window: l.cfg.Window(),
	}
	if identity == IdentityAnonymous {
		rule.Limit = l.cfg.AnonymousLimit
		rule.Burst = l.cfg.AnonymousBurst
	}

	if override, ok := l.cfg.EndpointOverrides[endpoint]; ok {
		limit, burst := override.AuthenticatedLimit, override.AuthenticatedBurst
		if identity == IdentityAnonymous {
			limit, burst = override.AnonymousLimit, override.AnonymousBurst
		}
		if limit > 0 {
			rule.Limit = limit
		}
		rule.Burst = burst
		if override.WindowSeconds > 0 {
			rule.Window = time.Duration(override.WindowSeconds) * time.Second
		}
	}

	if rule.Burst < 0 {
		rule.Burst = 0
	}
	return rule
}

// Allow checks whether the identity may call the endpoint. A disabled
// limiter or a non-positive limit always allows.
func (l *Limiter) Allow(ctx context.Context, endpoint, identity string, rule Rule, identityType IdentityType) (Result, error) {
	result := Result{
		Allowed:      true,
		Remaining:    rule.Limit,
		Limit:        rule.Limit,
		Window:       rule.Window,
		IdentityKey:  identity,
		EndpointKey:  endpoint,
		IdentityType: identityType,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !l.cfg.Enabled || rule.Limit <= 0 {
		return result, nil
	}

	window := rule.Window
	if window <= 0 {
		window = l.cfg.Window()
	}
	result.Window = window

	emission := window.Seconds() / float64(rule.Limit)
	burstOffset := emission * float64(rule.Burst+1)
	key := fmt.Sprintf("%s:%s:%s", l.cfg.RedisPrefix, endpoint, identity)

	res, err := l.script.Run(ctx, l.client, []string{key},
		formatFloat(float64(l.now().UnixNano())/float64(time.Second)),
		formatFloat(emission),
		formatFloat(burstOffset),
		int(window.Seconds())+1,
	).Result()
	if err != nil {
		return result, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 4 {
		return result, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	result.Allowed = toInt(values[0]) == 1
	result.Remaining = toInt(values[1])
	result.RetryAfter = time.Duration(toFloat(values[2]) * float64(time.Second))
	result.ResetAfter = time.Duration(toFloat(values[3]) * float64(time.Second))
	return result, nil
}

// formatFloat renders a float with fixed precision for Lua arguments.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 10, 64)
}

// toInt coerces a Lua script reply element to an int.
func toInt(v interface{}) int {
	switch value := v.(type) {
	case int64:
		return int(value)
	case int:
		return value
	case string:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int(value)
	default:
		return 0
	}
}

// toFloat coerces a Lua script reply element to a float64.
func toFloat(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case int64:
		return float64(value)
	case int:
		return float64(value)
	case string:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
