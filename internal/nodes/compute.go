package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
)

func addExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	a, err := floatParam(params, "num1")
	if err != nil {
		return nil, err
	}
	b, err := floatParam(params, "num2")
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": a + b}, nil
}

func multiplyExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	a, err := floatParam(params, "num1")
	if err != nil {
		return nil, err
	}
	b, err := floatParam(params, "num2")
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": a * b}, nil
}

func textConcatExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	parts, err := sequenceParam(params, "parts")
	if err != nil {
		return nil, err
	}
	sep, err := optionalStringParam(params, "separator", "")
	if err != nil {
		return nil, err
	}

	strs := make([]string, len(parts))
	for i, p := range parts {
		s, err := catalog.KindString.Coerce(p)
		if err != nil {
			return nil, badParam("parts", err)
		}
		strs[i] = s.(string)
	}
	return map[string]any{"text": strings.Join(strs, sep)}, nil
}

func textReplaceExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	text, err := stringParam(params, "text")
	if err != nil {
		return nil, err
	}
	oldS, err := stringParam(params, "old")
	if err != nil {
		return nil, err
	}
	newS, err := stringParam(params, "new")
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": strings.ReplaceAll(text, oldS, newS)}, nil
}

func echoExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	v, ok := params["value"]
	if !ok {
		return nil, missing("value")
	}
	return map[string]any{"value": v}, nil
}

// sleepExec reports progress once per second so long waits stay visible on
// the stream.
func sleepExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	seconds, err := floatParam(params, "seconds")
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	start := time.Now()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return map[string]any{"slept": time.Since(start).Seconds()}, nil
		}
		wait := remaining
		if wait > time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			if progress != nil && time.Until(deadline) > 0 {
				progress(map[string]any{"remaining_seconds": time.Until(deadline).Seconds()})
			}
		}
	}
}
