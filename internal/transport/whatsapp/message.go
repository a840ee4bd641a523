package whatsapp

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"outreach/internal/phone"
	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

func chatKind(jid types.JID) transport.ChatKind {
	switch jid.Server {
	case types.DefaultUserServer, types.HiddenUserServer:
		return transport.ChatDirect
	case types.GroupServer:
		return transport.ChatGroup
	case types.BroadcastServer:
		if jid.User == types.StatusBroadcastJID.User {
			return transport.ChatStatus
		}
		return transport.ChatBroadcast
	case types.NewsletterServer:
		return transport.ChatNewsletter
	default:
		return ""
	}
}

// contactID maps a phone-number JID to the engine's contact id.
func contactID(jid types.JID) (string, bool) {
	if jid.Server != types.DefaultUserServer {
		return "", false
	}
	return phone.FromSession(jid.User)
}

// textOf extracts the readable text of a message. Media without a caption,
// reactions and protocol messages yield "".
func textOf(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage().GetCaption() != "":
		return m.GetDocumentMessage().GetCaption()
	case m.GetEphemeralMessage().GetMessage() != nil:
		return textOf(m.GetEphemeralMessage().GetMessage())
	case m.GetViewOnceMessage().GetMessage() != nil:
		return textOf(m.GetViewOnceMessage().GetMessage())
	default:
		return ""
	}
}

func textMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// showQR prints the pairing code to the terminal and, when configured,
// writes it as a PNG.
func (a *Adapter) showQR(code string) error {
	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(a.cfg.QROut, q.ToSmallString(false)); err != nil {
		return err
	}
	if a.cfg.QRFile != "" {
		if err := q.WriteFile(320, a.cfg.QRFile); err != nil {
			return err
		}
		a.log.Info("pairing qr code written", logx.String("path", a.cfg.QRFile))
	}
	return nil
}
