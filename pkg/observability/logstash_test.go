package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLogstashAddr(t *testing.T) {
	for _, tc := range []struct {
		addr     string
		network  string
		hostPort string
		isError  bool
	}{
		{addr: "tcp://192.168.0.2:5044", network: "tcp", hostPort: "192.168.0.2:5044"},
		{addr: "udp://logs.local:5000", network: "udp", hostPort: "logs.local:5000"},
		{addr: "192.168.0.2:5044", network: "tcp", hostPort: "192.168.0.2:5044"},
		{addr: "localhost:5044", network: "tcp", hostPort: "localhost:5044"},
		{addr: "http://logs.local:5044", isError: true},
		{addr: "tcp://logs.local", isError: true},
	} {
		network, hostPort, err := ParseLogstashAddr(tc.addr)
		if tc.isError {
			require.Error(t, err, tc.addr)
			continue
		}
		require.NoError(t, err, tc.addr)
		require.Equal(t, tc.network, network, tc.addr)
		require.Equal(t, tc.hostPort, hostPort, tc.addr)
	}
}
