package main

import (
	"testing"

	"github.com/guseggert/hana/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveConfig(t *testing.T) {
	cases := []struct {
		name    string
		base    transport.Config
		i       int
		expAddr string
		expErr  bool
	}{
		{name: "first keeps address", base: transport.Config{Kind: transport.KindTCP, Address: "127.0.0.1:4000"}, i: 0, expAddr: "127.0.0.1:4000"},
		{name: "tcp next port", base: transport.Config{Kind: transport.KindTCP, Address: "127.0.0.1:4000"}, i: 2, expAddr: "127.0.0.1:4002"},
		{name: "tcp default", base: transport.Config{Kind: transport.KindTCP}, i: 1, expAddr: "127.0.0.1:3002"},
		{name: "ws next port", base: transport.Config{Kind: transport.KindWS, Address: "127.0.0.1:8000"}, i: 1, expAddr: "127.0.0.1:8001"},
		{name: "unix numbered", base: transport.Config{Kind: transport.KindUnix, Address: "/tmp/x.sock"}, i: 3, expAddr: "/tmp/x-3.sock"},
		{name: "pipe numbered", base: transport.Config{Kind: transport.KindPipe, Address: `\\.\pipe\hana`}, i: 1, expAddr: `\\.\pipe\hana-1`},
		{name: "bad tcp address", base: transport.Config{Kind: transport.KindTCP, Address: "nope"}, i: 1, expErr: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg, err := deriveConfig(c.base, c.i)
			if c.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expAddr, cfg.Address)
			assert.Equal(t, c.base.Kind, cfg.Kind)
		})
	}
}
