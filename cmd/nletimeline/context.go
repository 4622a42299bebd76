package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivlev/nletimeline/internal/config"
	"github.com/ivlev/nletimeline/internal/director"
	"github.com/ivlev/nletimeline/internal/engine"
	"github.com/ivlev/nletimeline/internal/logging"
	"github.com/ivlev/nletimeline/internal/system"
)

// defaultScriptDir is searched for the newest edit script when a command
// gets no script argument.
const defaultScriptDir = "scripts"

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     config.Config
	configErr  error

	logOnce sync.Once
	log     *zap.Logger
	logErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.config = config.Default()
			return
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*zap.Logger, error) {
	c.logOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logErr = err
			return
		}
		logCfg := cfg.Log
		if c.levelFlag != nil && *c.levelFlag != "" {
			logCfg.Level = *c.levelFlag
		}
		c.log, c.logErr = logging.NewFromConfig(logCfg)
	})
	return c.log, c.logErr
}

func (c *commandContext) sync() {
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func (c *commandContext) newProject(opts ...engine.Option) (*engine.Project, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	log, err := c.logger()
	if err != nil {
		return nil, err
	}
	return engine.NewProject(cfg, log, opts...)
}

// runScript reads the script named by args, or the newest script of
// defaultScriptDir, and applies it to a new project.
func (c *commandContext) runScript(cmd *cobra.Command, args []string, opts ...engine.Option) (*engine.Project, []director.StepResult, error) {
	path := defaultScriptDir
	if len(args) > 0 {
		path = args[0]
	}
	path, err := system.FindLatestScript(path)
	if err != nil {
		return nil, nil, fmt.Errorf("find script: %w", err)
	}
	s, err := director.ReadScript(path)
	if err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[*] Script: %s (%d steps)\n", path, len(s.Steps))

	p, err := c.newProject(append(opts, engine.WithTracks(s.Tracks))...)
	if err != nil {
		return nil, nil, err
	}
	results, err := p.RunScript(cmd.Context(), s)
	return p, results, err
}
