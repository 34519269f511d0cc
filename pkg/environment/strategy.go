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

package environment

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Strategy is one named way of resolving a fact.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context) (string, error)
}

// First tries the strategies in order and returns the first non-empty value
// along with the name of the strategy that produced it. Strategy errors are
// logged and skipped.
func First(ctx context.Context, log *zap.Logger, strategies ...Strategy) (string, string) {
	for _, strategy := range strategies {
		if strategy.Resolve == nil {
			continue
		}

		value, err := strategy.Resolve(ctx)
		if err != nil {
			log.Debug("strategy failed", zap.String("strategy", strategy.Name), zap.Error(err))
			continue
		}

		if value = strings.TrimSpace(value); value != "" {
			return value, strategy.Name
		}
	}

	return "", ""
}

// Value is a strategy returning a fixed, possibly empty, value.
func Value(name, value string) Strategy {
	return Strategy{
		Name: name,
		Resolve: func(context.Context) (string, error) {
			return value, nil
		},
	}
}

// Env returns one strategy per variable name, in order.
func Env(lookup func(string) string, names ...string) []Strategy {
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		strategies = append(strategies, Value("env:"+name, lookup(name)))
	}
	return strategies
}
