// Command callpeer is a terminal BeamTalk client: it authenticates over the
// REST API, joins a room over the websocket and can place and receive calls
// through the rtc controller. Useful for exercising a running server end to
// end without a browser.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ndenisov/beamtalk-server/internal/log"
	"github.com/ndenisov/beamtalk-server/internal/proto"
	"github.com/ndenisov/beamtalk-server/internal/rtc"
)

func main() {
	if err := run(); err != nil {
		stdlog.Printf("callpeer: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username (empty for guest login)")
	pass := flag.String("pass", "secret123", "password")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	baseCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := login(ctx, *server, *user, *pass)
	if err != nil {
		return err
	}

	wsAddr := strings.Replace(*server, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	peer := &wsPeer{ctx: ctx, conn: conn, cancel: cancel}

	if err := peer.send(proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if err := peer.send(proto.InboundTypeJoinChat, proto.ChatData{Room: *room}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	logger := log.New("warn")
	ctrl := rtc.NewController(peer, func() (rtc.MediaSource, error) {
		return rtc.NewDeviceSource(logger)
	}, logger)
	defer ctrl.Close()

	ctrl.OnIncomingCall(func(callID string, callerID int64, callerName, callType string) {
		fmt.Printf("*** incoming %s call from %s (user %d) (/accept or /reject)\n", callType, callerName, callerID)
	})
	ctrl.OnStateChange(func(s rtc.State) {
		fmt.Printf("*** call state: %s\n", s)
	})

	fmt.Printf("Connected to %s in room %s\n", *server, *room)
	fmt.Println("Commands: /call <user-id> [audio|video], /accept, /reject, /hangup, /mute, /camera. Plain text sends a message.")

	go func() {
		defer cancel()
		peer.readLoop(ctrl)
	}()

	inputLoop(ctx, peer, ctrl, *room)

	stopSignals()
	return nil
}

// login authenticates over the REST API, registering the user on first run.
// With no username a guest session is created.
func login(ctx context.Context, server, user, pass string) (string, error) {
	if user == "" {
		return postAuth(ctx, server+"/api/guest", nil)
	}

	creds := map[string]string{"username": user, "password": pass}
	token, err := postAuth(ctx, server+"/api/login", creds)
	if err == nil {
		return token, nil
	}
	return postAuth(ctx, server+"/api/register", creds)
}

func postAuth(ctx context.Context, url string, body any) (string, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// wsPeer owns the websocket and satisfies rtc.Signaler.
type wsPeer struct {
	ctx    context.Context
	conn   *websocket.Conn
	cancel context.CancelFunc
	mu     sync.Mutex
}

func (p *wsPeer) send(msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := wsjson.Write(p.ctx, p.conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		p.cancel()
		return err
	}
	return nil
}

func (p *wsPeer) Invite(receiverID int64, callType string, offer json.RawMessage) error {
	return p.send(proto.InboundTypeOutgoingCall, proto.OutgoingCallData{
		ReceiverID: receiverID,
		CallType:   callType,
		SignalData: offer,
	})
}

func (p *wsPeer) Answer(callerID int64, answer json.RawMessage) error {
	return p.send(proto.InboundTypeAnswerCall, proto.AnswerCallData{
		CallerID:   callerID,
		SignalData: answer,
	})
}

func (p *wsPeer) Reject(callerID int64) error {
	return p.send(proto.InboundTypeRejectCall, proto.RejectCallData{CallerID: callerID})
}

func (p *wsPeer) End(peerID int64) error {
	return p.send(proto.InboundTypeEndCall, proto.EndCallData{PeerID: peerID})
}

func (p *wsPeer) SendCandidate(targetUserID int64, candidate json.RawMessage) error {
	return p.send(proto.InboundTypeIceCandidate, proto.IceCandidateData{
		TargetUserID: targetUserID,
		Candidate:    candidate,
	})
}

func (p *wsPeer) readLoop(ctrl *rtc.Controller) {
	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(p.ctx, p.conn, &frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			stdlog.Printf("read error: %v", err)
			return
		}

		if frame.Type == proto.OutboundTypeError {
			fmt.Printf("*** server error: %s (%s)\n", frame.Error.Msg, frame.Error.Code)
			continue
		}

		switch frame.Event {
		case proto.EventMessageArrived:
			var ev proto.MessageEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				fmt.Printf("[%s] %s: %s\n", ev.Room, ev.Sender, ev.Body)
			}
		case proto.EventPresenceChanged:
			var ev proto.PresenceEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				fmt.Printf("*** %s is %s\n", ev.Username, ev.Status)
			}
		case proto.EventIncomingCall:
			var ev proto.IncomingCallEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				ctrl.HandleIncoming(ev.CallID, ev.CallerID, ev.CallerName, ev.CallType, ev.SignalData)
			}
		case proto.EventCallAnswered:
			var ev proto.CallAnsweredEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				ctrl.HandleAnswered(ev.CallID, ev.SignalData)
			}
		case proto.EventCallRejected:
			fmt.Println("*** call rejected")
			ctrl.HandleRejected()
		case proto.EventCallEnded:
			fmt.Println("*** call ended")
			ctrl.HandleEnded()
		case proto.EventCallUnreachable:
			fmt.Println("*** no answer")
			ctrl.HandleUnreachable()
		case proto.EventDeliveryFailed:
			var ev proto.DeliveryFailedEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				fmt.Printf("*** cannot reach user %d: %s\n", ev.TargetUserID, ev.Reason)
			}
			ctrl.HandleRejected()
		case proto.EventIceCandidate:
			var ev proto.IceCandidateEvent
			if json.Unmarshal(frame.Data, &ev) == nil {
				ctrl.HandleCandidate(ev.FromUserID, ev.Candidate)
			}
		}
	}
}

func inputLoop(ctx context.Context, peer *wsPeer, ctrl *rtc.Controller, room string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			body, _ := json.Marshal(map[string]string{"text": line})
			_ = peer.send(proto.InboundTypeMsg, proto.MsgData{Room: room, Body: body})
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/call":
			if len(fields) < 2 {
				fmt.Println("usage: /call <user-id> [audio|video]")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad user id")
				continue
			}
			callType := "audio"
			if len(fields) > 2 {
				callType = fields[2]
			}
			if err := ctrl.Dial(id, callType); err != nil {
				fmt.Printf("*** call failed: %v\n", err)
			}
		case "/accept":
			if err := ctrl.Accept(); err != nil {
				fmt.Printf("*** accept failed: %v\n", err)
			}
		case "/reject":
			if err := ctrl.Decline(); err != nil {
				fmt.Printf("*** reject failed: %v\n", err)
			}
		case "/hangup":
			ctrl.Hangup()
		case "/mute":
			if enabled, ok := ctrl.ToggleAudio(); ok {
				fmt.Printf("*** audio enabled: %v\n", enabled)
			} else {
				fmt.Println("*** no active call")
			}
		case "/camera":
			if enabled, ok := ctrl.ToggleVideo(); ok {
				fmt.Printf("*** video enabled: %v\n", enabled)
			} else {
				fmt.Println("*** no active call")
			}
		default:
			fmt.Println("unknown command")
		}
	}
}
