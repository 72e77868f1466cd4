// Package redisstub runs an in-process TCP server speaking enough RESP2 for
// the rate-limit store and the live event queue tests: counters with expiry
// and a single-consumer-group slice of the streams API. go-redis opens every
// connection with HELLO; the stub rejects that like an older redis-server
// would, so the client settles on RESP2 and authenticates with AUTH.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	done     chan struct{}

	mu       sync.Mutex
	streams  map[string]*streamLog
	counters map[string]*counter

	certPEM []byte
	keyPEM  []byte
}

// streamLog is an append-only entry list with per-group read cursors. A
// cursor models XREADGROUP's ">" semantics: each group sees every entry once.
type streamLog struct {
	entries []streamEntry
	cursors map[string]*groupCursor
}

type streamEntry struct {
	id     string
	fields map[string]string
}

type groupCursor struct {
	next    int
	pending map[string]struct{}
}

type counter struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	srv := &Server{
		opts:     opts,
		done:     make(chan struct{}),
		streams:  make(map[string]*streamLog),
		counters: make(map[string]*counter),
	}

	var ln net.Listener
	var err error
	if opts.EnableTLS {
		cert, certPEM, keyPEM, certErr := selfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		srv.certPEM = certPEM
		srv.keyPEM = keyPEM
		ln, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, err
	}

	srv.listener = ln
	srv.addr = ln.Addr().String()
	go srv.acceptLoop()
	return srv, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) CertPEM() []byte {
	return s.certPEM
}

func (s *Server) KeyPEM() []byte {
	return s.keyPEM
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
		close(s.done)
	}
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authed := s.opts.Password == ""
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if replyError(writer, "ERR empty command") != nil {
				return
			}
			continue
		}
		if s.handleCommand(writer, args, &authed) != nil {
			return
		}
	}
}

// handleCommand writes exactly one reply per command. Unknown commands get an
// error reply but keep the connection open; go-redis ignores failures of the
// optional commands it sends.
func (s *Server) handleCommand(w *bufio.Writer, args []string, authed *bool) error {
	switch strings.ToUpper(args[0]) {
	case "HELLO":
		// Pretend to predate RESP3 so the client downgrades and
		// authenticates with a plain AUTH.
		return replyError(w, "ERR unknown command 'HELLO'")
	case "AUTH":
		// AUTH <password> or AUTH <username> <password>.
		supplied := ""
		switch len(args) {
		case 2:
			supplied = args[1]
		case 3:
			supplied = args[2]
		default:
			return replyError(w, "ERR wrong number of arguments for 'auth'")
		}
		if s.opts.Password != "" && supplied != s.opts.Password {
			return replyError(w, "WRONGPASS invalid username-password pair")
		}
		*authed = true
		return replySimple(w, "OK")
	case "PING":
		return replySimple(w, "PONG")
	case "SELECT", "CLIENT", "RESET":
		return replySimple(w, "OK")
	}

	if !*authed {
		return replyError(w, "NOAUTH Authentication required.")
	}

	switch strings.ToUpper(args[0]) {
	case "INCR":
		if len(args) != 2 {
			return replyError(w, "ERR wrong number of arguments for 'incr'")
		}
		return replyInt(w, s.incr(args[1]))
	case "EXPIRE":
		if len(args) != 3 {
			return replyError(w, "ERR wrong number of arguments for 'expire'")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return replyError(w, "ERR value is not an integer or out of range")
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		return replyInt(w, 1)
	case "TTL":
		if len(args) != 2 {
			return replyError(w, "ERR wrong number of arguments for 'ttl'")
		}
		return replyInt(w, s.ttl(args[1]))
	case "XADD":
		return s.xadd(w, args)
	case "XGROUP":
		return s.xgroupCreate(w, args)
	case "XREADGROUP":
		return s.xreadgroup(w, args)
	case "XACK":
		if len(args) < 4 {
			return replyError(w, "ERR wrong number of arguments for 'xack'")
		}
		return replyInt(w, s.xack(args[1], args[2], args[3:]))
	default:
		return replyError(w, fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) stream(name string) *streamLog {
	log, ok := s.streams[name]
	if !ok {
		log = &streamLog{cursors: make(map[string]*groupCursor)}
		s.streams[name] = log
	}
	return log
}

func (s *Server) xadd(w *bufio.Writer, args []string) error {
	if len(args) < 5 || len(args)%2 != 1 {
		return replyError(w, "ERR wrong number of arguments for 'xadd'")
	}
	id := args[2]
	if id == "*" {
		id = fmt.Sprintf("%d-0", time.Now().UnixNano())
	}
	fields := make(map[string]string, (len(args)-3)/2)
	for i := 3; i+1 < len(args); i += 2 {
		fields[args[i]] = args[i+1]
	}
	s.mu.Lock()
	log := s.stream(args[1])
	log.entries = append(log.entries, streamEntry{id: id, fields: fields})
	s.mu.Unlock()
	return replyBulk(w, id)
}

func (s *Server) xgroupCreate(w *bufio.Writer, args []string) error {
	if len(args) < 5 {
		return replyError(w, "ERR wrong number of arguments for 'xgroup'")
	}
	if !strings.EqualFold(args[1], "CREATE") {
		return replyError(w, "ERR unsupported XGROUP subcommand")
	}
	s.mu.Lock()
	log := s.stream(args[2])
	if _, exists := log.cursors[args[3]]; exists {
		s.mu.Unlock()
		return replyError(w, "BUSYGROUP Consumer Group name already exists")
	}
	log.cursors[args[3]] = &groupCursor{pending: make(map[string]struct{})}
	s.mu.Unlock()
	return replySimple(w, "OK")
}

func (s *Server) xreadgroup(w *bufio.Writer, args []string) error {
	var group, streamName string
	count := 1
	blockFor := time.Duration(0)
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			group = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return replyError(w, "ERR value is not an integer or out of range")
			}
			count = v
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			ms, err := strconv.Atoi(args[i+1])
			if err != nil {
				return replyError(w, "ERR value is not an integer or out of range")
			}
			blockFor = time.Duration(ms) * time.Millisecond
			i++
		case "STREAMS":
			if i+2 >= len(args) {
				return replyError(w, "ERR syntax error")
			}
			streamName = args[i+1]
			i = len(args)
		}
	}
	if group == "" || streamName == "" {
		return replyError(w, "ERR missing GROUP or STREAMS")
	}

	deadline := time.Now().Add(blockFor)
	for {
		batch := s.claim(streamName, group, count)
		if len(batch) > 0 {
			return replyEntries(w, streamName, batch)
		}
		if blockFor <= 0 || time.Now().After(deadline) {
			return replyNil(w)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) claim(streamName, group string, count int) []streamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.stream(streamName)
	cursor, ok := log.cursors[group]
	if !ok {
		cursor = &groupCursor{pending: make(map[string]struct{})}
		log.cursors[group] = cursor
	}
	if cursor.next >= len(log.entries) {
		return nil
	}
	end := cursor.next + count
	if end > len(log.entries) {
		end = len(log.entries)
	}
	batch := log.entries[cursor.next:end]
	for _, entry := range batch {
		cursor.pending[entry.id] = struct{}{}
	}
	cursor.next = end
	return batch
}

func (s *Server) xack(streamName, group string, ids []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.streams[streamName]
	if !ok {
		return 0
	}
	cursor, ok := log.cursors[group]
	if !ok {
		return 0
	}
	var acked int64
	for _, id := range ids {
		if _, pending := cursor.pending[id]; pending {
			delete(cursor.pending, id)
			acked++
		}
	}
	return acked
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counter{}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		entry = &counter{}
		s.counters[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	return int64(remaining / time.Second)
}

// readCommand parses one RESP array of bulk strings.
func readCommand(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(line, "\r\n"))
}

func readBulk(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	n, err := readLength(r)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func replySimple(w *bufio.Writer, value string) error {
	fmt.Fprintf(w, "+%s\r\n", value)
	return w.Flush()
}

func replyError(w *bufio.Writer, msg string) error {
	fmt.Fprintf(w, "-%s\r\n", msg)
	return w.Flush()
}

func replyInt(w *bufio.Writer, value int64) error {
	fmt.Fprintf(w, ":%d\r\n", value)
	return w.Flush()
}

func replyBulk(w *bufio.Writer, value string) error {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return w.Flush()
}

func replyNil(w *bufio.Writer) error {
	w.WriteString("*-1\r\n")
	return w.Flush()
}

// replyEntries encodes an XREADGROUP result: one stream carrying the batch,
// each entry an [id, [field, value, ...]] pair.
func replyEntries(w *bufio.Writer, streamName string, batch []streamEntry) error {
	fmt.Fprintf(w, "*1\r\n*2\r\n")
	writeBulkRaw(w, streamName)
	fmt.Fprintf(w, "*%d\r\n", len(batch))
	for _, entry := range batch {
		fmt.Fprintf(w, "*2\r\n")
		writeBulkRaw(w, entry.id)
		fmt.Fprintf(w, "*%d\r\n", len(entry.fields)*2)
		for k, v := range entry.fields {
			writeBulkRaw(w, k)
			writeBulkRaw(w, v)
		}
	}
	return w.Flush()
}

func writeBulkRaw(w *bufio.Writer, value string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
}

func selfSignedCert() (tls.Certificate, []byte, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	return cert, certPEM, keyPEM, nil
}
