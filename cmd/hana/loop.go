package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/guseggert/hana/lifecycle"
	"github.com/guseggert/hana/protocol"
	"github.com/guseggert/hana/transport"
)

// tickLoop drives the controller the way a frame loop would: issue commands, then poll Update once per tick.
type tickLoop struct {
	ctrl            *lifecycle.Controller
	vizPath         string
	filter          string
	pings           int
	shutdownTimeout time.Duration

	sent map[lifecycle.ID]int
	// failed counts visualizations that ended Disconnected
	failed int
}

func (l *tickLoop) run(ctx context.Context, ids []lifecycle.ID, tick time.Duration) error {
	for _, id := range ids {
		if err := l.ctrl.Start(id, l.vizPath, l.filter); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, ev := range l.ctrl.Update() {
			if ev.StateChanged() && ev.To == lifecycle.Disconnected {
				l.failed++
			}
		}
		done, err := l.step(ids)
		if err != nil {
			return err
		}
		if done {
			if l.failed > 0 {
				return fmt.Errorf("%d of %d visualizations disconnected", l.failed, len(ids))
			}
			return nil
		}
	}
}

// step issues at most one command per id and reports whether every id has finished.
func (l *tickLoop) step(ids []lifecycle.ID) (bool, error) {
	finished := 0
	for _, id := range ids {
		state, _ := l.ctrl.State(id)
		switch state {
		case lifecycle.Connected:
			if l.sent[id] < l.pings {
				if err := l.ctrl.SendInstruction(id, protocol.Ping{}); err != nil {
					return false, err
				}
				l.sent[id]++
				continue
			}
			if err := l.ctrl.Shutdown(id, l.shutdownTimeout); err != nil {
				return false, err
			}
		case lifecycle.Unstarted, lifecycle.Disconnected:
			finished++
		}
	}
	return finished == len(ids), nil
}

// deriveConfig gives visualization i its own address: the next port for TCP and WebSocket, a numbered path or pipe name otherwise.
func deriveConfig(base transport.Config, i int) (transport.Config, error) {
	cfg := base
	if cfg.Address == "" {
		cfg.Address = cfg.Kind.DefaultAddress()
	}
	if i == 0 {
		return cfg, nil
	}

	switch cfg.Kind.Resolve() {
	case transport.KindTCP, transport.KindWS:
		host, portStr, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return transport.Config{}, fmt.Errorf("parsing address %q: %w", cfg.Address, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return transport.Config{}, fmt.Errorf("parsing port %q: %w", portStr, err)
		}
		cfg.Address = net.JoinHostPort(host, strconv.Itoa(port+i))
	case transport.KindUnix:
		if stem, ok := strings.CutSuffix(cfg.Address, ".sock"); ok {
			cfg.Address = fmt.Sprintf("%s-%d.sock", stem, i)
		} else {
			cfg.Address = fmt.Sprintf("%s-%d", cfg.Address, i)
		}
	case transport.KindPipe:
		cfg.Address = fmt.Sprintf("%s-%d", cfg.Address, i)
	default:
		return transport.Config{}, errors.New("cannot derive address for transport " + string(cfg.Kind))
	}
	return cfg, nil
}
