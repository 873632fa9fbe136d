// Command smoke drives two guest sessions against a running server and
// checks the whole wire surface: presence, room relay and the call
// handshake. Exits non-zero on the first mismatch.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ndenisov/beamtalk-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	room := flag.String("room", "smoke-room", "room name")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	alice, err := connect(ctx, *server)
	if err != nil {
		return fmt.Errorf("connect alice: %w", err)
	}
	defer alice.close()

	bob, err := connect(ctx, *server)
	if err != nil {
		return fmt.Errorf("connect bob: %w", err)
	}
	defer bob.close()

	// Alice learns bob's identity from his presence announcement.
	presence, err := alice.waitEvent(ctx, proto.EventPresenceChanged)
	if err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	var online proto.PresenceEvent
	if err := json.Unmarshal(presence, &online); err != nil {
		return fmt.Errorf("unmarshal presence: %w", err)
	}
	bobID := online.UserID
	fmt.Printf("presence ok: %s online (user %d)\n", online.Username, bobID)

	// Room relay.
	if err := alice.send(ctx, proto.InboundTypeJoinChat, proto.ChatData{Room: *room}); err != nil {
		return err
	}
	if err := bob.send(ctx, proto.InboundTypeJoinChat, proto.ChatData{Room: *room}); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)

	body := json.RawMessage(`{"text":"smoke"}`)
	if err := alice.send(ctx, proto.InboundTypeMsg, proto.MsgData{Room: *room, Body: body}); err != nil {
		return err
	}
	raw, err := bob.waitEvent(ctx, proto.EventMessageArrived)
	if err != nil {
		return fmt.Errorf("message relay: %w", err)
	}
	var msg proto.MessageEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Room != *room || !bytes.Equal(msg.Body, body) {
		return fmt.Errorf("relay mismatch: %+v", msg)
	}
	fmt.Println("relay ok")

	// Call handshake with placeholder SDP.
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 smoke"}`)
	if err := alice.send(ctx, proto.InboundTypeOutgoingCall, proto.OutgoingCallData{
		ReceiverID: bobID,
		CallType:   "audio",
		SignalData: offer,
	}); err != nil {
		return err
	}
	raw, err = bob.waitEvent(ctx, proto.EventIncomingCall)
	if err != nil {
		return fmt.Errorf("incoming call: %w", err)
	}
	var incoming proto.IncomingCallEvent
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return fmt.Errorf("unmarshal incoming: %w", err)
	}
	if incoming.CallID == "" || !bytes.Equal(incoming.SignalData, offer) {
		return fmt.Errorf("incoming call mismatch: %+v", incoming)
	}

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0 smoke"}`)
	if err := bob.send(ctx, proto.InboundTypeAnswerCall, proto.AnswerCallData{
		CallerID:   incoming.CallerID,
		SignalData: answer,
	}); err != nil {
		return err
	}
	raw, err = alice.waitEvent(ctx, proto.EventCallAnswered)
	if err != nil {
		return fmt.Errorf("call answered: %w", err)
	}
	var answered proto.CallAnsweredEvent
	if err := json.Unmarshal(raw, &answered); err != nil {
		return fmt.Errorf("unmarshal answered: %w", err)
	}
	if answered.CallID != incoming.CallID {
		return fmt.Errorf("call id mismatch: %s vs %s", answered.CallID, incoming.CallID)
	}

	if err := alice.send(ctx, proto.InboundTypeEndCall, proto.EndCallData{PeerID: bobID}); err != nil {
		return err
	}
	if _, err := bob.waitEvent(ctx, proto.EventCallEnded); err != nil {
		return fmt.Errorf("call ended (receiver): %w", err)
	}
	if _, err := alice.waitEvent(ctx, proto.EventCallEnded); err != nil {
		return fmt.Errorf("call ended (caller): %w", err)
	}
	fmt.Println("call handshake ok")

	fmt.Println("smoke passed")
	return nil
}

type session struct {
	conn *websocket.Conn
}

// connect creates a guest over REST and binds a websocket session to it.
func connect(ctx context.Context, server string) (*session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/guest", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("guest login status %d", resp.StatusCode)
	}
	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, err
	}

	wsAddr := strings.Replace(server, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return nil, err
	}

	s := &session{conn: conn}
	if err := s.send(ctx, proto.InboundTypeHello, proto.HelloData{Token: auth.Token, Protocol: proto.ProtocolVersion}); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, err
	}
	return s, nil
}

func (s *session) send(ctx context.Context, msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, s.conn, proto.Inbound{Type: msgType, Data: payload})
}

// waitEvent reads frames until the wanted event arrives, returning its data.
// Error frames abort the run.
func (s *session) waitEvent(ctx context.Context, want string) (json.RawMessage, error) {
	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			return nil, err
		}
		if frame.Type == proto.OutboundTypeError {
			return nil, fmt.Errorf("server error: %s (%s)", frame.Error.Msg, frame.Error.Code)
		}
		if frame.Event == want {
			return frame.Data, nil
		}
	}
}

func (s *session) close() {
	s.conn.Close(websocket.StatusNormalClosure, "bye")
}
