package slo

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment of a service
type Environment string

const (
	EnvProd    Environment = "prod"
	EnvStaging Environment = "staging"
	EnvDev     Environment = "dev"
)

// Valid reports whether e is a known environment
func (e Environment) Valid() bool {
	switch e {
	case EnvProd, EnvStaging, EnvDev:
		return true
	}
	return false
}

// SLIType is the kind of indicator an SLO measures
type SLIType string

const (
	SLIAvailability SLIType = "availability"
	SLILatency      SLIType = "latency"
	SLIErrorRate    SLIType = "error_rate"
	SLICustom       SLIType = "custom"
)

// Burn thresholds applied when an SLO does not set its own.
const (
	DefaultFastBurnThreshold = 2.0
	DefaultSlowBurnThreshold = 1.0
)

// ErrInvalid is returned when a service or SLO definition fails validation
var ErrInvalid = errors.New("invalid definition")

// Service is a deployable unit owning a set of SLOs
type Service struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name" validate:"required,max=128"`
	OwnerTeam   string      `json:"owner_team" validate:"max=128"`
	Environment Environment `json:"environment" validate:"required,oneof=prod staging dev"`
	Version     string      `json:"version" validate:"max=64"`
	Description string      `json:"description"`
	Disabled    bool        `json:"disabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks the service fields
func (s *Service) Validate() error {
	return validateStruct(s)
}

// SLO is a reliability target attached to one service
type SLO struct {
	ID                int64   `json:"id"`
	ServiceID         int64   `json:"service_id" validate:"required,gt=0"`
	Name              string  `json:"name" validate:"required,max=128"`
	Description       string  `json:"description"`
	SLIType           SLIType `json:"sli_type" validate:"required,oneof=availability latency error_rate custom"`
	Target            float64 `json:"target" validate:"gt=0,lt=1"`
	TimeWindowDays    int     `json:"time_window_days" validate:"gt=0,lte=365"`
	LatencyThreshold  float64 `json:"latency_threshold,omitempty" validate:"gte=0"`
	GoodQuery         string  `json:"good_query,omitempty"`
	TotalQuery        string  `json:"total_query,omitempty"`
	FastBurnThreshold float64 `json:"fast_burn_threshold" validate:"gt=0"`
	SlowBurnThreshold float64 `json:"slow_burn_threshold" validate:"gt=0"`
	HardBudgetPolicy  bool    `json:"hard_budget_policy"`
	Disabled          bool    `json:"disabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyDefaults fills unset burn thresholds
func (s *SLO) ApplyDefaults() {
	if s.FastBurnThreshold == 0 {
		s.FastBurnThreshold = DefaultFastBurnThreshold
	}
	if s.SlowBurnThreshold == 0 {
		s.SlowBurnThreshold = DefaultSlowBurnThreshold
	}
}

// Validate checks the SLO fields, including the latency threshold for latency SLIs
func (s *SLO) Validate() error {
	if err := validateStruct(s); err != nil {
		return err
	}
	if s.SLIType == SLILatency && s.LatencyThreshold <= 0 {
		return fmt.Errorf("%w: latency_threshold must be positive for latency SLOs", ErrInvalid)
	}
	if (s.GoodQuery == "") != (s.TotalQuery == "") {
		return fmt.Errorf("%w: good_query and total_query must be set together", ErrInvalid)
	}
	return nil
}

// Window is the compliance window of the SLO
func (s *SLO) Window() time.Duration {
	return time.Duration(s.TimeWindowDays) * 24 * time.Hour
}

// Pulled reports whether the SLO has Prometheus queries to pull samples from
func (s *SLO) Pulled() bool {
	return s.GoodQuery != "" && s.TotalQuery != ""
}

var structValidator = newStructValidator()

// newStructValidator reports fields by their JSON names.
func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(v interface{}) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: field %s failed %q", ErrInvalid, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalid, err)
}
