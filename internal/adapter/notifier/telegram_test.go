package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTelegramSender(t *testing.T) {
	Convey("Given a Telegram API that accepts the bot but never answers messages", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/getMe") {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"backup","username":"backup_bot"}}`))
				return
			}
			<-r.Context().Done()
		}))
		defer server.Close()

		sender, err := newTelegram("token", "42", 20, server.URL+"/bot%s/%s", 100*time.Millisecond)
		So(err, ShouldBeNil)

		Convey("Send should fail within the client timeout", func() {
			start := time.Now()
			err := sender.Send(context.Background(), "hello")
			So(err, ShouldNotBeNil)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		})
	})

	Convey("Given an invalid chat id", t, func() {
		_, err := NewTelegram("token", "not-a-number", 20)

		Convey("It should fail before contacting Telegram", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "invalid telegram chat id")
		})
	})
}
