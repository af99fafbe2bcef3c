package validator

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testSocksServer is a minimal SOCKS5 CONNECT relay used as the proxy under test.
type testSocksServer struct {
	ln       net.Listener
	user     string
	pass     string
	accepted atomic.Int64
}

func startSocksServer(t *testing.T, user, pass string) *testSocksServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen socks server: %v", err)
	}
	s := &testSocksServer{ln: ln, user: user, pass: pass}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testSocksServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *testSocksServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		go s.handle(conn)
	}
}

func (s *testSocksServer) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	targetAddr, err := s.handshake(conn, reader)
	if err != nil {
		return
	}

	upstream, err := net.DialTimeout("tcp", targetAddr, 5*time.Second)
	if err != nil {
		conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0}) // Host unreachable
		return
	}
	defer upstream.Close()

	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(upstream, reader)
		if tcpConn, ok := upstream.(interface{ CloseWrite() error }); ok {
			tcpConn.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		io.Copy(conn, upstream)
		if tcpConn, ok := conn.(interface{ CloseWrite() error }); ok {
			tcpConn.CloseWrite()
		}
	}()
	wg.Wait()
}

func (s *testSocksServer) handshake(conn net.Conn, reader *bufio.Reader) (string, error) {
	authHeader := make([]byte, 2)
	if _, err := io.ReadFull(reader, authHeader); err != nil {
		return "", err
	}
	if authHeader[0] != 0x05 {
		return "", fmt.Errorf("unsupported socks version: %d", authHeader[0])
	}
	methods := make([]byte, int(authHeader[1]))
	if _, err := io.ReadFull(reader, methods); err != nil {
		return "", err
	}

	if s.user == "" {
		if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
			return "", err
		}
	} else {
		if !containsByte(methods, 0x02) {
			conn.Write([]byte{0x05, 0xff})
			return "", fmt.Errorf("client did not offer user/pass auth")
		}
		if _, err := conn.Write([]byte{0x05, 0x02}); err != nil {
			return "", err
		}
		if err := s.checkUserPass(conn, reader); err != nil {
			return "", err
		}
	}

	reqHeader := make([]byte, 4)
	if _, err := io.ReadFull(reader, reqHeader); err != nil {
		return "", err
	}
	if reqHeader[1] != 0x01 {
		return "", fmt.Errorf("unsupported command: %d", reqHeader[1])
	}

	var host string
	switch reqHeader[3] {
	case 0x01:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(reader, addr); err != nil {
			return "", err
		}
		host = net.IP(addr).String()
	case 0x03:
		n, err := reader.ReadByte()
		if err != nil {
			return "", err
		}
		name := make([]byte, int(n))
		if _, err := io.ReadFull(reader, name); err != nil {
			return "", err
		}
		host = string(name)
	case 0x04:
		addr := make([]byte, 16)
		if _, err := io.ReadFull(reader, addr); err != nil {
			return "", err
		}
		host = net.IP(addr).String()
	default:
		return "", fmt.Errorf("unsupported address type: %d", reqHeader[3])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(reader, portBuf); err != nil {
		return "", err
	}
	port := binary.BigEndian.Uint16(portBuf)
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

func (s *testSocksServer) checkUserPass(conn net.Conn, reader *bufio.Reader) error {
	ver, err := reader.ReadByte()
	if err != nil {
		return err
	}
	if ver != 0x01 {
		return fmt.Errorf("unsupported auth version: %d", ver)
	}
	user, err := readShortString(reader)
	if err != nil {
		return err
	}
	pass, err := readShortString(reader)
	if err != nil {
		return err
	}
	if user != s.user || pass != s.pass {
		conn.Write([]byte{0x01, 0x01})
		return fmt.Errorf("bad credentials")
	}
	_, err = conn.Write([]byte{0x01, 0x00})
	return err
}

func readShortString(reader *bufio.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, int(n))
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func containsByte(list []byte, b byte) bool {
	for _, v := range list {
		if v == b {
			return true
		}
	}
	return false
}
