package ingress

import (
	"io"
	"net"
	"sync"

	"github.com/plfm/plfm/pkg/metrics"
)

// Splice copies bytes in both directions until either side closes.
// initial is replayed to the backend first (the sniffed ClientHello).
// Returns bytes in (client to backend) and out (backend to client).
func Splice(client, backend net.Conn, initial io.Reader) (in, out int64) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var src io.Reader = client
		if initial != nil {
			src = initial
		}
		in, _ = io.Copy(backend, src)
		// half-close toward the backend so it sees EOF
		if tc, ok := backend.(*net.TCPConn); ok {
			tc.CloseWrite()
		} else {
			backend.Close()
		}
	}()

	go func() {
		defer wg.Done()
		out, _ = io.Copy(client, backend)
		if tc, ok := client.(*net.TCPConn); ok {
			tc.CloseWrite()
		} else {
			client.Close()
		}
	}()

	wg.Wait()
	metrics.IngressBytesCopied.WithLabelValues("in").Add(float64(in))
	metrics.IngressBytesCopied.WithLabelValues("out").Add(float64(out))
	return in, out
}
