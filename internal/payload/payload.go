// Package payload turns a gateway-agnostic NotificationDescriptor into each
// gateway's wire shape. Nothing here touches the network or credentials.
package payload

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	apnspayload "github.com/sideshow/apns2/payload"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// DefaultSound is used when the descriptor leaves Sound empty.
const DefaultSound = "default"

// dataJSON encodes custom data as a JSON object string; nil encodes as "{}".
func dataJSON(data map[string]string) string {
	if len(data) == 0 {
		return "{}"
	}
	b, err := json.Marshal(data)
	if err != nil {
		// map[string]string always marshals
		return "{}"
	}
	return string(b)
}

func sound(n push.NotificationDescriptor) string {
	if n.Sound == "" {
		return DefaultSound
	}
	return n.Sound
}

// --- Xiaomi ---

// XiaomiOptions carries the app-level settings of a Xiaomi send.
type XiaomiOptions struct {
	PackageName string
	// NotifyType is a bitmask of sound(1), vibrate(2) and lights(4); -1 enables all.
	NotifyType int
}

// XiaomiBatchLimit is the maximum number of regids per send.
const XiaomiBatchLimit = 1000

// Xiaomi builds the form body of a regid send covering every token.
func Xiaomi(tokens []string, n push.NotificationDescriptor, opts XiaomiOptions) url.Values {
	notifyType := opts.NotifyType
	if notifyType == 0 {
		notifyType = -1
	}
	form := url.Values{}
	form.Set("registration_id", strings.Join(tokens, ","))
	form.Set("title", n.Title)
	form.Set("description", n.Body)
	form.Set("payload", dataJSON(n.Data))
	form.Set("restricted_package_name", opts.PackageName)
	form.Set("notify_type", strconv.Itoa(notifyType))
	form.Set("pass_through", "0")
	return form
}

// --- Huawei ---

type HuaweiRequest struct {
	ValidateOnly bool          `json:"validate_only"`
	Message      HuaweiMessage `json:"message"`
}

type HuaweiMessage struct {
	Data    string        `json:"data,omitempty"`
	Android HuaweiAndroid `json:"android"`
	Token   []string      `json:"token"`
}

type HuaweiAndroid struct {
	Notification HuaweiNotification `json:"notification"`
}

type HuaweiNotification struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ClickAction HuaweiClickAction `json:"click_action"`
	Sound       string            `json:"sound,omitempty"`
	Badge       *HuaweiBadge      `json:"badge,omitempty"`
}

type HuaweiClickAction struct {
	// Type 3 opens the app's launcher activity.
	Type int `json:"type"`
}

type HuaweiBadge struct {
	SetNum int    `json:"set_num"`
	Class  string `json:"class,omitempty"`
}

// Huawei builds one batch message for every token.
func Huawei(tokens []string, n push.NotificationDescriptor, validateOnly bool) HuaweiRequest {
	notif := HuaweiNotification{
		Title:       n.Title,
		Body:        n.Body,
		ClickAction: HuaweiClickAction{Type: 3},
	}
	if n.Sound != "" {
		notif.Sound = n.Sound
	}
	if n.Badge != nil {
		notif.Badge = &HuaweiBadge{SetNum: *n.Badge}
	}
	return HuaweiRequest{
		ValidateOnly: validateOnly,
		Message: HuaweiMessage{
			Data:    dataJSON(n.Data),
			Android: HuaweiAndroid{Notification: notif},
			Token:   tokens,
		},
	}
}

// --- APNs ---

// APNS builds the aps payload shared by every token of a send.
func APNS(n push.NotificationDescriptor) *apnspayload.Payload {
	p := apnspayload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound(sound(n))
	if n.Badge != nil {
		p.Badge(*n.Badge)
	}
	if len(n.Data) > 0 {
		p.Custom("payload", n.Data)
	}
	return p
}

// --- OPPO ---

// OppoBatchLimit is the maximum number of targets per unicast_batch call.
const OppoBatchLimit = 1000

type OppoMessage struct {
	TargetType   int              `json:"target_type"`
	TargetValue  string           `json:"target_value"`
	Notification OppoNotification `json:"notification"`
}

type OppoNotification struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	ClickActionType  int    `json:"click_action_type"`
	ActionParameters string `json:"action_parameters,omitempty"`
	ChannelID        string `json:"channel_id,omitempty"`
}

// Oppo builds one unicast entry per token; target_type 2 addresses a registration id.
func Oppo(tokens []string, n push.NotificationDescriptor, channelID string) []OppoMessage {
	msgs := make([]OppoMessage, 0, len(tokens))
	for _, tok := range tokens {
		msgs = append(msgs, OppoMessage{
			TargetType:  2,
			TargetValue: tok,
			Notification: OppoNotification{
				Title:            n.Title,
				Content:          n.Body,
				ActionParameters: dataJSON(n.Data),
				ChannelID:        channelID,
			},
		})
	}
	return msgs
}

// --- vivo ---

type VivoMessage struct {
	RegID           string            `json:"regId"`
	NotifyType      int               `json:"notifyType"`
	Title           string            `json:"title"`
	Content         string            `json:"content"`
	SkipType        int               `json:"skipType"`
	RequestID       string            `json:"requestId"`
	ClientCustomMap map[string]string `json:"clientCustomMap,omitempty"`
	Classification  int               `json:"classification,omitempty"`
}

// Vivo builds the single-target message for token. requestID must be unique
// per call; vivo uses it for deduplication.
func Vivo(token string, n push.NotificationDescriptor, requestID string) VivoMessage {
	return VivoMessage{
		RegID:           token,
		NotifyType:      4,
		Title:           n.Title,
		Content:         n.Body,
		SkipType:        1,
		RequestID:       requestID,
		ClientCustomMap: n.Data,
	}
}

// --- FCM ---

// FCMBatchLimit is the multicast ceiling of the Firebase Admin SDK.
const FCMBatchLimit = 500

// FCM builds a multicast message for tokens.
func FCM(tokens []string, n push.NotificationDescriptor) *messaging.MulticastMessage {
	aps := &messaging.Aps{Sound: sound(n)}
	if n.Badge != nil {
		aps.Badge = n.Badge
	}
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: sound(n),
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: aps},
		},
	}
}

// --- Web ---

type webBody struct {
	Notification webNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type webNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

// Web builds the plaintext body that webpush-go encrypts per subscription.
func Web(n push.NotificationDescriptor, icon string) ([]byte, error) {
	return json.Marshal(webBody{
		Notification: webNotification{Title: n.Title, Body: n.Body, Icon: icon},
		Data:         n.Data,
	})
}

// Chunk splits tokens into slices of at most size.
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 || len(tokens) <= size {
		return [][]string{tokens}
	}
	var out [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[start:end])
	}
	return out
}
