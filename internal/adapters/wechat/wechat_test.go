package wechat

import (
	"context"
	"testing"
	"time"

	"github.com/eatmoreapple/openwechat"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

func testHandle() *Handle {
	return New(config.WeChatConfig{}, "fishroom", []string{"fish tank", "ops"}, nil, time.UTC)
}

func capture(msgs *[]*bus.Message) bus.PublishFunc {
	return func(ctx context.Context, m *bus.Message) error {
		*msgs = append(*msgs, m)
		return nil
	}
}

func groupText(content string) *openwechat.Message {
	return &openwechat.Message{
		MsgType:    openwechat.MsgTypeText,
		Content:    content,
		CreateTime: 1456148400,
	}
}

func TestPublishGroupMessage(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.publishGroupMessage(context.Background(), capture(&msgs), "fish tank", "alice", groupText("hello from wx"))

	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Channel != bus.ChannelWeChat || m.Sender != "alice" || m.Receiver != "fish tank" {
		t.Fatalf("bad header: %+v", m)
	}
	if m.Content != "hello from wx" || m.MType != bus.Text {
		t.Fatalf("bad body: content=%q mtype=%q", m.Content, m.MType)
	}
	if m.Date != "2016-02-22" {
		t.Fatalf("date should come from the message timestamp, got %q", m.Date)
	}
}

func TestPublishGroupMessageCommand(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.publishGroupMessage(context.Background(), capture(&msgs), "fish tank", "alice", groupText("/help"))

	if len(msgs) != 1 || msgs[0].MType != bus.Command {
		t.Fatalf("slash lines should classify as commands: %+v", msgs)
	}
}

func TestPublishGroupMessageSkipsEmptyNick(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	h.publishGroupMessage(context.Background(), capture(&msgs), "fish tank", "", groupText("ghost"))

	if len(msgs) != 0 {
		t.Fatalf("unattributable messages must be dropped, got %d", len(msgs))
	}
}

func TestPublishGroupMessageSkipsSystemNoise(t *testing.T) {
	h := testHandle()
	var msgs []*bus.Message

	sys := &openwechat.Message{MsgType: openwechat.MsgTypeSys, Content: "recalled a message"}
	h.publishGroupMessage(context.Background(), capture(&msgs), "fish tank", "alice", sys)

	if len(msgs) != 0 {
		t.Fatalf("system messages must be dropped, got %d", len(msgs))
	}
}

func TestResolveContentLocation(t *testing.T) {
	h := testHandle()
	msg := &openwechat.Message{
		MsgType: openwechat.MsgTypeText,
		Url:     "https://api.map.qq.com/ws/staticmap?center=31.2,121.5",
		Content: "fish tank: <msg>pictype=location</msg>",
	}

	content, mtype, _ := h.resolveContent(context.Background(), msg)
	if content != "(Map message received)" || mtype != bus.Location {
		t.Fatalf("got content=%q mtype=%q", content, mtype)
	}
}

func TestResolveContentPlaceholders(t *testing.T) {
	h := testHandle()
	cases := []struct {
		msgType openwechat.MessageType
		content string
		mtype   bus.MType
	}{
		{openwechat.MsgTypeShareCard, "(Card message received)", bus.Text},
		{openwechat.MsgTypeVoice, "(Voice message received)", bus.Audio},
		{openwechat.MsgTypeVideo, "(Video message received)", bus.Video},
	}
	for _, c := range cases {
		content, mtype, _ := h.resolveContent(context.Background(), &openwechat.Message{MsgType: c.msgType})
		if content != c.content || mtype != c.mtype {
			t.Fatalf("type %d: got content=%q mtype=%q", c.msgType, content, mtype)
		}
	}
}

func TestResolveContentLinkShare(t *testing.T) {
	h := testHandle()
	msg := &openwechat.Message{MsgType: openwechat.MsgTypeApp, Url: "https://example.com/post/42"}

	content, mtype, _ := h.resolveContent(context.Background(), msg)
	if content != "https://example.com/post/42" || mtype != bus.Text {
		t.Fatalf("got content=%q mtype=%q", content, mtype)
	}
}

func TestResolveContentAttachmentWithoutUploader(t *testing.T) {
	h := testHandle()
	msg := &openwechat.Message{MsgType: openwechat.MsgTypeApp, FileName: "notes.pdf"}

	content, mtype, mediaURL := h.resolveContent(context.Background(), msg)
	if content != "(file: notes.pdf)" || mtype != bus.File || mediaURL != "" {
		t.Fatalf("got content=%q mtype=%q url=%q", content, mtype, mediaURL)
	}
}

func TestResolveContentAppWithoutFileSkipped(t *testing.T) {
	h := testHandle()
	msg := &openwechat.Message{MsgType: openwechat.MsgTypeApp}

	content, _, _ := h.resolveContent(context.Background(), msg)
	if content != "" {
		t.Fatalf("app messages without link or file must be dropped, got %q", content)
	}
}

func TestResolveContentPictureWithoutUploader(t *testing.T) {
	h := testHandle()
	msg := &openwechat.Message{MsgType: openwechat.MsgTypeImage}

	content, mtype, mediaURL := h.resolveContent(context.Background(), msg)
	if content != "(photo)" || mtype != bus.Photo || mediaURL != "" {
		t.Fatalf("got content=%q mtype=%q url=%q", content, mtype, mediaURL)
	}
}

func TestResolveContentEmoticonWithoutUploader(t *testing.T) {
	h := testHandle()
	msg := &openwechat.Message{MsgType: openwechat.MsgTypeEmoticon}

	content, mtype, mediaURL := h.resolveContent(context.Background(), msg)
	if content != "(sticker)" || mtype != bus.Sticker || mediaURL != "" {
		t.Fatalf("got content=%q mtype=%q url=%q", content, mtype, mediaURL)
	}
}

func TestBindGroups(t *testing.T) {
	h := testHandle()
	h.bindGroups(openwechat.Groups{
		{User: &openwechat.User{NickName: "fish tank"}},
		{User: &openwechat.User{NickName: "random"}},
	})

	if h.group("fish tank") == nil {
		t.Fatal("bound group should resolve")
	}
	if h.group("random") != nil {
		t.Fatal("unbound group must not resolve")
	}
}

func TestMemberNickPrefersDisplayName(t *testing.T) {
	u := &openwechat.User{NickName: "alice", DisplayName: "queen"}
	if nick := memberNick(u); nick != "queen" {
		t.Fatalf("got %q, want the in-group alias", nick)
	}
	u.DisplayName = ""
	if nick := memberNick(u); nick != "alice" {
		t.Fatalf("got %q, want the account nickname", nick)
	}
}

func TestPublishLogout(t *testing.T) {
	h := testHandle()
	h.bindGroups(openwechat.Groups{
		{User: &openwechat.User{NickName: "ops"}},
		{User: &openwechat.User{NickName: "fish tank"}},
	})
	var msgs []*bus.Message

	h.publishLogout(context.Background(), capture(&msgs))

	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want one per bound group", len(msgs))
	}
	if msgs[0].Receiver != "fish tank" || msgs[1].Receiver != "ops" {
		t.Fatalf("rooms out of order: %q, %q", msgs[0].Receiver, msgs[1].Receiver)
	}
	for _, m := range msgs {
		if m.Content != "Wechat is logged out!" || m.MType != bus.Event || m.Sender != "_fishroom_" {
			t.Fatalf("bad logout notice: %+v", m)
		}
	}
}

func TestSendTextUnboundGroup(t *testing.T) {
	h := testHandle()
	if err := h.SendText(context.Background(), "random", "hi", nil); err == nil {
		t.Fatal("sending to an unbound group must fail")
	}
}

func TestSendPhotoUnboundGroup(t *testing.T) {
	h := testHandle()
	if err := h.SendPhoto(context.Background(), "random", []byte{0xff}, "alice"); err == nil {
		t.Fatal("sending to an unbound group must fail")
	}
}
