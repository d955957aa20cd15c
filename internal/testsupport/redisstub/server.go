// Package redisstub implements just enough of the Redis wire protocol to back
// the cache, lock, pub/sub and auth tests without a real server.
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
	"sort"
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
	mu       sync.Mutex
	strings  map[string]*strEntry
	hashes   map[string]map[string]string
	zsets    map[string]map[string]float64
	subs     map[string]map[*connWriter]struct{}
	closed   chan struct{}
	tlsCert  tls.Certificate
	certPEM  []byte
	keyPEM   []byte
}

type strEntry struct {
	value  string
	expiry time.Time
}

func (e *strEntry) expired() bool {
	return !e.expiry.IsZero() && time.Now().After(e.expiry)
}

// connWriter serializes writes to a connection so published messages do not
// interleave with command replies.
type connWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (cw *connWriter) push(values []interface{}) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return writeArray(cw.w, values)
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:    opts,
		strings: make(map[string]*strEntry),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		subs:    make(map[string]map[*connWriter]struct{}),
		closed:  make(chan struct{}),
	}
	addr := "127.0.0.1:0"
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, keyPEM, cert, certErr := generateSelfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.tlsCert = cert
		server.certPEM = certPEM
		server.keyPEM = keyPEM
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
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
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	writer := &connWriter{w: bufio.NewWriter(conn)}
	defer func() {
		s.dropSubscriber(writer)
		_ = conn.Close()
	}()
	reader := bufio.NewReader(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := s.reply(writer, func(w *bufio.Writer) error {
				return writeError(w, "ERR wrong number of arguments")
			}); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "HELLO":
			// Keep the connection on RESP2.
			if err := s.reply(writer, func(w *bufio.Writer) error {
				return writeError(w, "ERR unknown command 'HELLO'")
			}); err != nil {
				return
			}
		case "PING":
			if err := s.reply(writer, func(w *bufio.Writer) error {
				return writeSimpleString(w, "PONG")
			}); err != nil {
				return
			}
		case "AUTH":
			ok := false
			switch len(args) {
			case 2:
				ok = s.opts.Password == "" || args[1] == s.opts.Password
			case 3:
				ok = s.opts.Password != "" && args[2] == s.opts.Password
			}
			if err := s.reply(writer, func(w *bufio.Writer) error {
				if ok {
					return writeSimpleString(w, "OK")
				}
				return writeError(w, "WRONGPASS invalid username-password pair")
			}); err != nil {
				return
			}
			if ok {
				authenticated = true
			}
		case "SELECT", "CLIENT":
			if err := s.reply(writer, func(w *bufio.Writer) error {
				return writeSimpleString(w, "OK")
			}); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := s.reply(writer, func(w *bufio.Writer) error {
					return writeError(w, "NOAUTH Authentication required.")
				}); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, cmd, args) {
				return
			}
		}
	}
}

func (s *Server) reply(cw *connWriter, fn func(*bufio.Writer) error) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return fn(cw.w)
}

func (s *Server) dispatch(cw *connWriter, cmd string, args []string) bool {
	switch cmd {
	case "GET":
		value, ok := s.getString(args[1])
		return s.write(cw, func(w *bufio.Writer) error {
			if !ok {
				return writeBulkNil(w)
			}
			return writeBulkString(w, value)
		})
	case "GETDEL":
		value, ok := s.getDelString(args[1])
		return s.write(cw, func(w *bufio.Writer) error {
			if !ok {
				return writeBulkNil(w)
			}
			return writeBulkString(w, value)
		})
	case "SET":
		return s.handleSet(cw, args)
	case "DEL":
		count := s.del(args[1:])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeInteger(w, count)
		})
	case "INCR":
		value, err := s.incrBy(args[1], 1)
		return s.writeIntOrErr(cw, value, err)
	case "INCRBY":
		delta, parseErr := strconv.ParseInt(args[2], 10, 64)
		if parseErr != nil {
			return s.write(cw, func(w *bufio.Writer) error {
				return writeError(w, "ERR value is not an integer or out of range")
			})
		}
		value, err := s.incrBy(args[1], delta)
		return s.writeIntOrErr(cw, value, err)
	case "EXPIRE":
		seconds, parseErr := strconv.ParseInt(args[2], 10, 64)
		if parseErr != nil {
			return s.write(cw, func(w *bufio.Writer) error {
				return writeError(w, "ERR invalid expire time")
			})
		}
		set := s.expire(args[1], time.Duration(seconds)*time.Second)
		return s.write(cw, func(w *bufio.Writer) error {
			if set {
				return writeInteger(w, 1)
			}
			return writeInteger(w, 0)
		})
	case "TTL":
		ttl := s.ttl(args[1])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeInteger(w, ttl)
		})
	case "HSET":
		added := s.hset(args[1], args[2:])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeInteger(w, added)
		})
	case "HSETNX":
		set := s.hsetNX(args[1], args[2], args[3])
		return s.write(cw, func(w *bufio.Writer) error {
			if set {
				return writeInteger(w, 1)
			}
			return writeInteger(w, 0)
		})
	case "HGETALL":
		pairs := s.hgetAll(args[1])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeArray(w, pairs)
		})
	case "ZADD":
		added := s.zadd(args[1], args[2:])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeInteger(w, added)
		})
	case "ZRANGE":
		withScores := len(args) > 4 && strings.EqualFold(args[len(args)-1], "WITHSCORES")
		members := s.zrange(args[1], args[2], args[3], withScores)
		return s.write(cw, func(w *bufio.Writer) error {
			return writeArray(w, members)
		})
	case "ZREMRANGEBYSCORE":
		removed := s.zremRangeByScore(args[1], args[2], args[3])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeInteger(w, removed)
		})
	case "ZPOPMAX":
		count := int64(1)
		if len(args) > 2 {
			count, _ = strconv.ParseInt(args[2], 10, 64)
		}
		popped := s.zpopMax(args[1], count)
		return s.write(cw, func(w *bufio.Writer) error {
			return writeArray(w, popped)
		})
	case "SUBSCRIBE":
		for i, channel := range args[1:] {
			s.addSubscriber(channel, cw)
			if err := cw.push([]interface{}{"subscribe", channel, int64(i + 1)}); err != nil {
				return false
			}
		}
		return true
	case "UNSUBSCRIBE":
		for i, channel := range args[1:] {
			s.removeSubscriber(channel, cw)
			if err := cw.push([]interface{}{"unsubscribe", channel, int64(len(args) - 2 - i)}); err != nil {
				return false
			}
		}
		return true
	case "PUBLISH":
		count := s.publish(args[1], args[2])
		return s.write(cw, func(w *bufio.Writer) error {
			return writeInteger(w, count)
		})
	default:
		return s.write(cw, func(w *bufio.Writer) error {
			return writeError(w, fmt.Sprintf("ERR unknown command '%s'", cmd))
		})
	}
}

func (s *Server) write(cw *connWriter, fn func(*bufio.Writer) error) bool {
	return s.reply(cw, fn) == nil
}

func (s *Server) writeIntOrErr(cw *connWriter, value int64, err error) bool {
	return s.write(cw, func(w *bufio.Writer) error {
		if err != nil {
			return writeError(w, err.Error())
		}
		return writeInteger(w, value)
	})
}

func (s *Server) handleSet(cw *connWriter, args []string) bool {
	key, value := args[1], args[2]
	var ttl time.Duration
	nx, withGet, keepTTL := false, false, false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "GET":
			withGet = true
		case "KEEPTTL":
			keepTTL = true
		case "EX":
			seconds, _ := strconv.ParseInt(args[i+1], 10, 64)
			ttl = time.Duration(seconds) * time.Second
			i++
		case "PX":
			millis, _ := strconv.ParseInt(args[i+1], 10, 64)
			ttl = time.Duration(millis) * time.Millisecond
			i++
		}
	}

	s.mu.Lock()
	prev, existed := s.lookupString(key)
	if nx && existed {
		s.mu.Unlock()
		return s.write(cw, func(w *bufio.Writer) error {
			return writeBulkNil(w)
		})
	}
	entry := &strEntry{value: value}
	if ttl > 0 {
		entry.expiry = time.Now().Add(ttl)
	} else if keepTTL && existed {
		entry.expiry = s.strings[key].expiry
	}
	s.strings[key] = entry
	s.mu.Unlock()

	return s.write(cw, func(w *bufio.Writer) error {
		if withGet {
			if !existed {
				return writeBulkNil(w)
			}
			return writeBulkString(w, prev)
		}
		return writeSimpleString(w, "OK")
	})
}

// lookupString requires s.mu held.
func (s *Server) lookupString(key string) (string, bool) {
	entry, ok := s.strings[key]
	if !ok {
		return "", false
	}
	if entry.expired() {
		delete(s.strings, key)
		return "", false
	}
	return entry.value, true
}

func (s *Server) getString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupString(key)
}

func (s *Server) getDelString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.lookupString(key)
	if ok {
		delete(s.strings, key)
	}
	return value, ok
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, key := range keys {
		if _, ok := s.lookupString(key); ok {
			delete(s.strings, key)
			count++
			continue
		}
		if _, ok := s.hashes[key]; ok {
			delete(s.hashes, key)
			count++
			continue
		}
		if _, ok := s.zsets[key]; ok {
			delete(s.zsets, key)
			count++
		}
	}
	return count
}

func (s *Server) incrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.lookupString(key)
	var value int64
	if ok {
		parsed, err := strconv.ParseInt(current, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ERR value is not an integer or out of range")
		}
		value = parsed
	}
	value += delta
	entry := s.strings[key]
	if entry == nil || !ok {
		entry = &strEntry{}
		s.strings[key] = entry
	}
	entry.value = strconv.FormatInt(value, 10)
	return value, nil
}

func (s *Server) expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookupString(key); !ok {
		return false
	}
	s.strings[key].expiry = time.Now().Add(ttl)
	return true
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.strings[key]
	if !ok || entry.expired() {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	return int64(time.Until(entry.expiry) / time.Second)
}

func (s *Server) hset(key string, fieldValues []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	var added int64
	for i := 0; i+1 < len(fieldValues); i += 2 {
		if _, exists := hash[fieldValues[i]]; !exists {
			added++
		}
		hash[fieldValues[i]] = fieldValues[i+1]
	}
	return added
}

func (s *Server) hsetNX(key, field, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	if _, exists := hash[field]; exists {
		return false
	}
	hash[field] = value
	return true
}

func (s *Server) hgetAll(key string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	fields := make([]string, 0, len(hash))
	for field := range hash {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	out := make([]interface{}, 0, len(hash)*2)
	for _, field := range fields {
		out = append(out, field, hash[field])
	}
	return out
}

func (s *Server) zadd(key string, scoreMembers []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset := s.zsets[key]
	if zset == nil {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}
	var added int64
	for i := 0; i+1 < len(scoreMembers); i += 2 {
		score, err := strconv.ParseFloat(scoreMembers[i], 64)
		if err != nil {
			continue
		}
		if _, exists := zset[scoreMembers[i+1]]; !exists {
			added++
		}
		zset[scoreMembers[i+1]] = score
	}
	return added
}

type rankedMember struct {
	member string
	score  float64
}

// sortedMembers requires s.mu held.
func (s *Server) sortedMembers(key string) []rankedMember {
	zset := s.zsets[key]
	ranked := make([]rankedMember, 0, len(zset))
	for member, score := range zset {
		ranked = append(ranked, rankedMember{member: member, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].member < ranked[j].member
	})
	return ranked
}

func (s *Server) zrange(key, startArg, stopArg string, withScores bool) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranked := s.sortedMembers(key)
	start, _ := strconv.Atoi(startArg)
	stop, _ := strconv.Atoi(stopArg)
	if start < 0 {
		start += len(ranked)
	}
	if stop < 0 {
		stop += len(ranked)
	}
	if start < 0 {
		start = 0
	}
	if stop >= len(ranked) {
		stop = len(ranked) - 1
	}
	out := make([]interface{}, 0)
	for i := start; i <= stop && i >= 0 && i < len(ranked); i++ {
		out = append(out, ranked[i].member)
		if withScores {
			out = append(out, formatScore(ranked[i].score))
		}
	}
	return out
}

func (s *Server) zremRangeByScore(key, minArg, maxArg string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	min, minExcl := parseScoreBound(minArg, true)
	max, maxExcl := parseScoreBound(maxArg, false)
	zset := s.zsets[key]
	var removed int64
	for member, score := range zset {
		if score < min || score > max {
			continue
		}
		if minExcl && score == min {
			continue
		}
		if maxExcl && score == max {
			continue
		}
		delete(zset, member)
		removed++
	}
	return removed
}

func (s *Server) zpopMax(key string, count int64) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranked := s.sortedMembers(key)
	out := make([]interface{}, 0)
	for i := 0; i < int(count) && len(ranked)-1-i >= 0; i++ {
		top := ranked[len(ranked)-1-i]
		delete(s.zsets[key], top.member)
		out = append(out, top.member, formatScore(top.score))
	}
	return out
}

func parseScoreBound(arg string, isMin bool) (float64, bool) {
	exclusive := strings.HasPrefix(arg, "(")
	arg = strings.TrimPrefix(arg, "(")
	switch strings.ToLower(arg) {
	case "-inf":
		return -1 << 62, false
	case "+inf", "inf":
		return 1 << 62, false
	}
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		if isMin {
			return -1 << 62, false
		}
		return 1 << 62, false
	}
	return value, exclusive
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func (s *Server) addSubscriber(channel string, cw *connWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[channel]
	if set == nil {
		set = make(map[*connWriter]struct{})
		s.subs[channel] = set
	}
	set[cw] = struct{}{}
}

func (s *Server) removeSubscriber(channel string, cw *connWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[channel], cw)
}

func (s *Server) dropSubscriber(cw *connWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.subs {
		delete(set, cw)
	}
}

func (s *Server) publish(channel, payload string) int64 {
	s.mu.Lock()
	targets := make([]*connWriter, 0, len(s.subs[channel]))
	for cw := range s.subs[channel] {
		targets = append(targets, cw)
	}
	s.mu.Unlock()
	for _, cw := range targets {
		_ = cw.push([]interface{}{"message", channel, payload})
	}
	return int64(len(targets))
}

func generateSelfSignedCert() ([]byte, []byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"127.0.0.1", "localhost"},
	}
	tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	return certPEM, keyPEM, cert, nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
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
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		switch v := value.(type) {
		case string:
			if err := writeBulkStringRaw(w, v); err != nil {
				return err
			}
		case int64:
			if err := writeIntegerRaw(w, v); err != nil {
				return err
			}
		case int:
			if err := writeIntegerRaw(w, int64(v)); err != nil {
				return err
			}
		case []interface{}:
			if err := writeArray(w, v); err != nil {
				return err
			}
		default:
			if err := writeBulkStringRaw(w, fmt.Sprint(v)); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func writeBulkStringRaw(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return err
}

func writeIntegerRaw(w *bufio.Writer, value int64) error {
	_, err := fmt.Fprintf(w, ":%d\r\n", value)
	return err
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
