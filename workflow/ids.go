package workflow

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"
)

// IDGenerator produces globally unique instance ids.
type IDGenerator interface {
	NextID() (string, error)
}

// SnowflakeIDs renders gkit snowflake ids as decimal strings.
type SnowflakeIDs struct {
	gen generator.Generator
}

// NewSnowflakeIDs creates a snowflake generator for the given machine id.
func NewSnowflakeIDs(machineID uint16) *SnowflakeIDs {
	return NewSnowflakeIDsFrom(generator.NewSnowflake(time.Now().Add(-time.Second), machineID))
}

// NewSnowflakeIDsFrom wraps an existing gkit generator.
func NewSnowflakeIDsFrom(gen generator.Generator) *SnowflakeIDs {
	return &SnowflakeIDs{gen: gen}
}

// NextID implements IDGenerator.
func (s *SnowflakeIDs) NextID() (string, error) {
	id, err := s.gen.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate snowflake id: %w", err)
	}
	return strconv.FormatUint(id, 10), nil
}

// UUIDs generates random (version 4) UUID strings.
type UUIDs struct{}

// NextID implements IDGenerator.
func (UUIDs) NextID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

// NewIDGenerator selects a generator by scheme name ("snowflake" or "uuid").
func NewIDGenerator(scheme string, machineID uint16) (IDGenerator, error) {
	switch scheme {
	case "", "snowflake":
		return NewSnowflakeIDs(machineID), nil
	case "uuid":
		return UUIDs{}, nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q", scheme)
	}
}
