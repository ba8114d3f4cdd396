package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/clipsync/internal/logging"
	"github.com/dyluth/clipsync/internal/mailbox"
	"github.com/dyluth/clipsync/internal/registry"
	"github.com/dyluth/clipsync/internal/session"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/stretchr/testify/suite"
	"golang.org/x/net/websocket"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  map[string]clipboard.Entry
	calls chan string
}

func (n *recordingNotifier) Send(_ context.Context, token string, _ *clipboard.Device, entry clipboard.Entry) error {
	n.mu.Lock()
	n.sent[token] = entry
	n.mu.Unlock()
	n.calls <- token
	return nil
}

// ServerTestSuite runs the HTTP surface against a miniredis-backed registry.
type ServerTestSuite struct {
	suite.Suite
	redis    *miniredis.Miniredis
	registry registry.Registry
	store    *mailbox.Store
	notifier *recordingNotifier
	server   *Server
	http     *httptest.Server
}

func (s *ServerTestSuite) SetupTest() {
	s.redis = miniredis.RunT(s.T())

	reg, err := registry.OpenRedis("redis://"+s.redis.Addr()+"/0", "test")
	s.Require().NoError(err)
	s.registry = reg

	s.store = mailbox.NewStore(0, 0)
	s.notifier = &recordingNotifier{sent: make(map[string]clipboard.Entry), calls: make(chan string, 16)}
	s.server = New(reg, s.store, logging.Discard(), WithNotifier(s.notifier))
	s.http = httptest.NewServer(s.server.Handler())
}

func (s *ServerTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
	s.http.Close()
	s.registry.Close()
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func decode[T any](s *ServerTestSuite, resp *http.Response) Envelope[T] {
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var env Envelope[T]
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func (s *ServerTestSuite) post(path string, body any) *http.Response {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	resp, err := http.Post(s.http.URL+path, "application/json", &buf)
	s.Require().NoError(err)
	return resp
}

func (s *ServerTestSuite) addUser(user, device, deviceType, token string) Envelope[bool] {
	return decode[bool](s, s.post("/user/adduser", AddUserRequest{
		Name:   user,
		Device: NewDeviceRef{Name: device, Type: deviceType, Notification: token},
	}))
}

func (s *ServerTestSuite) addMessage(device, deviceType, data string) Envelope[bool] {
	return decode[bool](s, s.post("/message/addmessage", AddMessageRequest{
		Device:  clipboard.DeviceRef{Name: device, Type: deviceType},
		Message: clipboard.Entry{Data: data, Type: clipboard.EntryTypeText},
	}))
}

func (s *ServerTestSuite) updateBase(device, deviceType string) Envelope[clipboard.Entry] {
	return decode[clipboard.Entry](s, s.post("/message/updatebase", UpdateBaseRequest{
		Device: clipboard.DeviceRef{Name: device, Type: deviceType},
	}))
}

func (s *ServerTestSuite) connect(device, deviceType string) *websocket.Conn {
	conn, err := websocket.Dial("ws"+strings.TrimPrefix(s.http.URL, "http")+"/ws", "", "http://localhost/")
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })

	s.Require().NoError(websocket.JSON.Send(conn, session.InitMessage{
		Device: clipboard.DeviceRef{Name: device, Type: deviceType},
		Type:   session.InitType,
	}))
	return conn
}

func (s *ServerTestSuite) TestRoot() {
	resp, err := http.Get(s.http.URL + "/")
	s.Require().NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(Greeting, string(body))
}

func (s *ServerTestSuite) TestAddUserAndListDevices() {
	s.True(s.addUser("alice", "phone", "IOS", "tok").Data)
	s.True(s.addUser("alice", "laptop", "Mac", "").Data)

	resp, err := http.Get(s.http.URL + "/user/devices?name=alice")
	s.Require().NoError(err)
	env := decode[*clipboard.User](s, resp)

	s.Equal(CodeSuccess, env.Code)
	s.Equal("success", env.Msg)
	s.Require().NotNil(env.Data)
	s.Equal("alice", env.Data.Name)
	s.Require().Len(env.Data.Devices, 2)

	names := []string{env.Data.Devices[0].Name, env.Data.Devices[1].Name}
	s.ElementsMatch([]string{"phone", "laptop"}, names)
}

func (s *ServerTestSuite) TestListDevices_UnknownUser() {
	resp, err := http.Get(s.http.URL + "/user/devices?name=nobody")
	s.Require().NoError(err)
	env := decode[*clipboard.User](s, resp)

	s.Equal(CodeFailure, env.Code)
	s.Contains(env.Msg, "user not found")
	s.Nil(env.Data)
}

func (s *ServerTestSuite) TestListDevices_MissingName() {
	resp, err := http.Get(s.http.URL + "/user/devices")
	s.Require().NoError(err)
	env := decode[*clipboard.User](s, resp)

	s.Equal(CodeFailure, env.Code)
	s.Contains(env.Msg, "invalid input")
}

func (s *ServerTestSuite) TestAddUser_InvalidDeviceType() {
	env := s.addUser("alice", "fridge", "Toaster", "")
	s.Equal(CodeFailure, env.Code)
	s.False(env.Data)
	s.Contains(env.Msg, "invalid device type")

	resp, err := http.Get(s.http.URL + "/user/devices?name=alice")
	s.Require().NoError(err)
	s.Equal(CodeFailure, decode[*clipboard.User](s, resp).Code, "rejected request must not create the user")
}

func (s *ServerTestSuite) TestMalformedBody() {
	env := decode[bool](s, s.post("/message/addmessage", "{not json"))
	s.Equal(CodeFailure, env.Code)
	s.False(env.Data)
	s.Contains(env.Msg, "malformed request body")

	pull := decode[*clipboard.Entry](s, s.post("/message/updatebase", "[]"))
	s.Equal(CodeFailure, pull.Code)
	s.Nil(pull.Data)
}

func (s *ServerTestSuite) TestPush_RejectsNoneEntry() {
	s.True(s.addUser("alice", "phone", "IOS", "").Data)

	env := decode[bool](s, s.post("/message/addmessage", AddMessageRequest{
		Device:  clipboard.DeviceRef{Name: "phone", Type: "IOS"},
		Message: clipboard.EmptyEntry(),
	}))
	s.Equal(CodeFailure, env.Code)
	s.Contains(env.Msg, "invalid entry type")
}

// Device A pushes, live device B receives it, offline device C pulls it once.
func (s *ServerTestSuite) TestEndToEnd_LiveThenPull() {
	s.True(s.addUser("alice", "phone", "IOS", "").Data)
	s.True(s.addUser("alice", "laptop", "Mac", "").Data)
	s.True(s.addUser("alice", "desktop", "Linux", "").Data)

	live := s.connect("laptop", "Mac")
	s.Require().Eventually(func() bool { return s.server.Sessions().Live() == 1 }, 2*time.Second, 10*time.Millisecond)

	before := time.Now().UnixMilli()
	s.Equal(CodeSuccess, s.addMessage("phone", "IOS", "hello").Code)

	live.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got clipboard.Entry
	s.Require().NoError(websocket.JSON.Receive(live, &got))
	s.Equal("hello", got.Data)
	s.Equal(clipboard.EntryTypeText, got.Type)
	s.GreaterOrEqual(got.Date, before)

	pulled := s.updateBase("desktop", "Linux")
	s.Equal(CodeSuccess, pulled.Code)
	s.Equal(got, pulled.Data)

	again := s.updateBase("desktop", "Linux")
	s.Equal(CodeSuccess, again.Code)
	s.Equal(clipboard.EmptyEntry(), again.Data)

	s.Equal(clipboard.EmptyEntry(), s.updateBase("laptop", "Mac").Data, "live delivery consumes the entry")
	s.Equal(clipboard.EmptyEntry(), s.updateBase("phone", "IOS").Data, "origin is never pending")
}

// A device first seen through a push is created without an owner.
func (s *ServerTestSuite) TestEndToEnd_UnownedDevice() {
	env := s.addMessage("ghost", "Linux", "boo")
	s.Equal(CodeFailure, env.Code)
	s.False(env.Data)
	s.Contains(env.Msg, "user not found")

	pull := decode[*clipboard.Entry](s, s.post("/message/updatebase", UpdateBaseRequest{
		Device: clipboard.DeviceRef{Name: "ghost", Type: "Linux"},
	}))
	s.Equal(CodeFailure, pull.Code)
	s.Contains(pull.Msg, "user not found")

	device, err := s.registry.ResolveDevice(context.Background(), "ghost", "Linux")
	s.Require().NoError(err)

	s.True(s.addUser("bob", "ghost", "Linux", "").Data)
	user, err := s.registry.FindUser(context.Background(), "bob")
	s.Require().NoError(err)
	s.Contains(user.DeviceIDs(), device.ID, "adduser adopts the auto-created device")

	s.Equal(CodeSuccess, s.addMessage("ghost", "Linux", "boo").Code)
}

func (s *ServerTestSuite) TestPush_InvalidDeviceType() {
	env := s.addMessage("phone", "Nokia", "x")
	s.Equal(CodeFailure, env.Code)
	s.Contains(env.Msg, "invalid device type")
}

func (s *ServerTestSuite) TestPush_NotifiesPendingDevicesWithToken() {
	s.True(s.addUser("alice", "phone", "IOS", "tok-phone").Data)
	s.True(s.addUser("alice", "laptop", "Mac", "").Data)
	s.True(s.addUser("alice", "desktop", "Linux", "").Data)

	s.Equal(CodeSuccess, s.addMessage("laptop", "Mac", "to phone").Code)

	select {
	case token := <-s.notifier.calls:
		s.Equal("tok-phone", token)
	case <-time.After(2 * time.Second):
		s.Fail("expected a notification for the phone")
	}

	s.notifier.mu.Lock()
	s.Len(s.notifier.sent, 1)
	s.Equal("to phone", s.notifier.sent["tok-phone"].Data)
	s.notifier.mu.Unlock()
}

func (s *ServerTestSuite) TestPush_LiveDeviceIsNotNotified() {
	s.True(s.addUser("alice", "phone", "IOS", "tok-phone").Data)
	s.True(s.addUser("alice", "laptop", "Mac", "").Data)

	live := s.connect("phone", "IOS")
	s.Require().Eventually(func() bool { return s.server.Sessions().Live() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Equal(CodeSuccess, s.addMessage("laptop", "Mac", "live").Code)

	live.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got clipboard.Entry
	s.Require().NoError(websocket.JSON.Receive(live, &got))
	s.Equal("live", got.Data)

	select {
	case token := <-s.notifier.calls:
		s.Failf("unexpected notification", "token %s", token)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *ServerTestSuite) TestHealth() {
	s.True(s.addUser("alice", "phone", "IOS", "").Data)
	s.Equal(CodeSuccess, s.addMessage("phone", "IOS", "x").Code)

	resp, err := http.Get(s.http.URL + "/healthz")
	s.Require().NoError(err)
	var health HealthResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("healthy", health.Status)
	s.Equal("connected", health.Registry)
	s.Equal(1, health.Mailboxes)
	s.Equal(int64(0), health.LiveSessions)
}

func (s *ServerTestSuite) TestHealth_RegistryDown() {
	s.redis.Close()

	resp, err := http.Get(s.http.URL + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()

	var health HealthResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&health))
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	s.Equal("unhealthy", health.Status)
	s.Equal("disconnected", health.Registry)
	s.NotEmpty(health.Error)
	s.Equal("application/json; charset=utf-8", resp.Header.Get("Content-Type"))
}

func (s *ServerTestSuite) TestRegistryDown_IsFailureEnvelope() {
	s.redis.Close()

	env := s.addMessage("phone", "IOS", "x")
	s.Equal(CodeFailure, env.Code)
	s.Contains(env.Msg, "upstream failure")
}

func (s *ServerTestSuite) TestStartAndShutdown() {
	srv := New(s.registry, s.store, logging.Discard())
	s.Require().NoError(srv.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.NoError(srv.Shutdown(ctx))

	_, err = http.Get("http://" + srv.Addr().String() + "/")
	s.Error(err)
}

func (s *ServerTestSuite) TestStart_AddressInUse() {
	srv := New(s.registry, s.store, logging.Discard())
	err := srv.Start(strings.TrimPrefix(s.http.URL, "http://"))
	s.Error(err)
	s.Contains(err.Error(), "failed to listen")
}
