package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type checkerFunc func(context.Context) error

func (f checkerFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

func TestReadinessGroup(t *testing.T) {
	ok := checkerFunc(func(context.Context) error { return nil })
	redisDown := checkerFunc(func(context.Context) error { return errors.New("redis: connection refused") })
	warming := checkerFunc(func(context.Context) error { return errors.New("watcher has not completed a sweep yet") })

	assert.NoError(t, ReadinessGroup{}.CheckReadiness(context.Background()))
	assert.NoError(t, ReadinessGroup{ok, ok}.CheckReadiness(context.Background()))

	err := ReadinessGroup{ok, redisDown, warming}.CheckReadiness(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, err, "sweep")
}
