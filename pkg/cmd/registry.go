// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/dagflow/pkg/jobs/fanout"
	"github.com/dukex/dagflow/pkg/jobs/filewrite"
	"github.com/dukex/dagflow/pkg/jobs/httprequest"
	logjob "github.com/dukex/dagflow/pkg/jobs/log"
	"github.com/dukex/dagflow/pkg/registry"
)

const httpJobTimeout = 30 * time.Second

func registerJobPlugins(reg *registry.Registry, pluginsPath string) error {
	jobPlugins, err := reg.LoadJobPlugins(pluginsPath)
	if err != nil {
		return err
	}

	for _, plugin := range jobPlugins {
		reg.RegisterJob(plugin)
	}

	return nil
}

func registerNativeJobs(reg *registry.Registry, logger *slog.Logger) {
	reg.RegisterJob(logjob.NewFactory(logger))
	reg.RegisterJob(httprequest.NewFactory(&http.Client{Timeout: httpJobTimeout}, logger))
	reg.RegisterJob(filewrite.NewFactory(logger))
}

func registerNativeExpanders(reg *registry.Registry) {
	reg.RegisterExpander(fanout.NewRangeExpander(reg))
}

// NewRegistry registers the native jobs and expanders, then the job plugins
// found under pluginsPath. The fan-out resolver is registered by NewEngine.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	registerNativeJobs(reg, logger)
	registerNativeExpanders(reg)

	if pluginsPath != "" {
		err := registerJobPlugins(reg, pluginsPath)
		if err != nil {
			return nil, err
		}
	}

	return reg, nil
}
