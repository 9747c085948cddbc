package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInit(t *testing.T) {
	Convey("Given a buffer as log output", t, func() {
		var buf bytes.Buffer
		ctx := context.Background()
		t.Setenv(EnvFormat, "")

		Convey("When the JSON format and a service name are chosen", func() {
			So(Init(WithOutput(&buf), WithFormat("JSON"), WithService("barometer")), ShouldBeNil)
			Get().Info(ctx, "batch screened",
				String("assessmentID", "a-1"),
				Int("accepted", 12),
				Bool("duplicate", false),
				Duration("took", 2*time.Millisecond))

			Convey("Then each line is a JSON record with the fields and a source", func() {
				var rec map[string]any
				So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "batch screened")
				So(rec["service"], ShouldEqual, "barometer")
				So(rec["assessmentID"], ShouldEqual, "a-1")
				So(rec["accepted"], ShouldEqual, 12.0)
				So(rec["duplicate"], ShouldEqual, false)
				So(rec["source"], ShouldContainSubstring, "logger_test.go:")
			})
		})

		Convey("When the format comes from the environment", func() {
			t.Setenv(EnvFormat, "json")
			So(Init(WithOutput(&buf)), ShouldBeNil)
			Get().Warn(ctx, "queue full")

			Convey("Then it is honoured", func() {
				So(strings.HasPrefix(buf.String(), "{"), ShouldBeTrue)
			})
		})

		Convey("When the format is unknown", func() {
			err := Init(WithOutput(&buf), WithFormat("xml"))

			Convey("Then Init fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a named logger writes an error", func() {
			So(Init(WithOutput(&buf)), ShouldBeNil)
			Named("ledger").Error(ctx, "append failed", Error(errors.New("disk full")))

			Convey("Then the fields are grouped under the name", func() {
				So(buf.String(), ShouldContainSubstring, "ledger.error=")
				So(buf.String(), ShouldContainSubstring, "disk full")
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given an initialized logger", t, func() {
		var buf bytes.Buffer
		t.Setenv(EnvFormat, "")
		So(Init(WithOutput(&buf)), ShouldBeNil)
		ctx := context.Background()

		Convey("When the level is raised to warn", func() {
			So(SetLevelString(" WARNING "), ShouldBeNil)
			Get().Info(ctx, "dropped")
			Get().Warn(ctx, "kept")

			Convey("Then lines below it are dropped", func() {
				So(buf.String(), ShouldNotContainSubstring, "dropped")
				So(buf.String(), ShouldContainSubstring, "kept")
			})
		})

		Convey("When debug is enabled", func() {
			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(ctx, "verbose")

			Convey("Then debug lines are written", func() {
				So(buf.String(), ShouldContainSubstring, "verbose")
			})
		})

		Convey("When the level is unknown", func() {
			Convey("Then it is rejected", func() {
				So(SetLevelString("chatty"), ShouldNotBeNil)
			})
		})

		Reset(func() {
			_ = SetLevelString("info")
			_ = Sync()
		})
	})
}
