/*
Copyright 2015 All rights reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogatekeeper/identity-relay/pkg/config"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/handlers"
	"github.com/joho/godotenv"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewRelayApp creates the command line application, serving is the default
// command.
func NewRelayApp() *cli.App {
	app := cli.NewApp()
	app.Name = constant.Prog
	app.Usage = constant.Description
	app.Version = handlers.GetVersion()
	app.Author = constant.Author
	app.Email = constant.Email
	app.Flags = config.GetCommandLineOptions()
	app.UsageText = "identity-relay [options]"

	app.Before = func(_ *cli.Context) error {
		return loadDotEnv()
	}

	app.Action = serveAction
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "serve the relay function over http",
			Flags:  config.GetCommandLineOptions(),
			Action: serveAction,
		},
		{
			Name:   "relay",
			Usage:  "perform a single invocation and print the result",
			Flags:  config.GetCommandLineOptions(),
			Action: relayAction,
		},
	}

	return app
}

// loadDotEnv loads the .env file of the working directory when present,
// variables already set take precedence.
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// loadConfig merges the configuration file and the command line options,
// the latter win. Options placed before the command name apply as well.
func loadConfig(cx *cli.Context) (*config.Config, error) {
	cfg := config.NewDefaultConfig()

	contexts := []*cli.Context{cx}
	if parent := cx.Parent(); parent != nil {
		contexts = []*cli.Context{parent, cx}
	}

	filename := cx.String("config")
	if filename == "" {
		filename = cx.GlobalString("config")
	}
	if filename != "" {
		if err := cfg.ReadConfigFile(filename); err != nil {
			return nil, fmt.Errorf("unable to read the configuration file: %s, error: %w", filename, err)
		}
	}

	for _, flagCtx := range contexts {
		if err := cfg.ParseCLIOptions(flagCtx); err != nil {
			return nil, err
		}
	}

	if err := cfg.Update(); err != nil {
		return nil, err
	}

	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func serveAction(cx *cli.Context) error {
	cfg, err := loadConfig(cx)
	if err != nil {
		return printError(err.Error())
	}

	svc, err := NewServer(context.Background(), cfg, nil)
	if err != nil {
		return printError(err.Error())
	}

	if err := svc.Run(); err != nil {
		return printError(err.Error())
	}

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalChannel

	if err := svc.Shutdown(); err != nil {
		svc.Log.Error("failed to shutdown gracefully", zap.Error(err))
	}

	return nil
}

func relayAction(cx *cli.Context) error {
	cfg, err := loadConfig(cx)
	if err != nil {
		return printError(err.Error())
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return printError(err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	relay, err := NewRelay(ctx, cfg, log)
	if err != nil {
		return printError(err.Error())
	}

	code, resp := relay.Invoke(ctx, nil)

	if err := writeResult(cx.App.Writer, resp); err != nil {
		return printError(err.Error())
	}

	if code != http.StatusOK {
		return cli.NewExitError("", 1)
	}

	return nil
}

func writeResult(out io.Writer, resp *handlers.Response) error {
	if out == nil {
		out = os.Stdout
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// printError display the command line usage and error
func printError(message string) *cli.ExitError {
	return cli.NewExitError("[error] "+message, 1)
}
