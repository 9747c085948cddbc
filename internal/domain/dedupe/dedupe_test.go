package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/barometer/internal/domain/dedupe"
	"github.com/okian/barometer/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		key := model.Key{AssessmentID: "a1", RespondentID: "r1", ItemID: "q1"}.String()

		Convey("When a response slot is recorded", func() {
			first := d.SeenAndRecord(ctx, key)
			second := d.SeenAndRecord(ctx, key)

			Convey("Then only the second call reports it as seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Seen(ctx, key), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When Seen is called before recording", func() {
			So(d.Seen(ctx, key), ShouldBeFalse)

			Convey("Then nothing is recorded", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When a recorded id is unrecorded", func() {
			d.SeenAndRecord(ctx, key)
			d.Unrecord(ctx, key)
			d.Unrecord(ctx, "missing")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, key), ShouldBeFalse)
			})
		})

		Convey("When many ids are recorded", func() {
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("id-%d", i))
			}

			Convey("Then none are evicted", func() {
				So(d.Size(), ShouldEqual, 1000)
				So(d.Seen(ctx, "id-0"), ShouldBeTrue)
			})
		})

		Convey("When the empty string is recorded", func() {
			So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, ""), ShouldBeTrue)
		})
	})

	Convey("Given a bounded deduper of size 3", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"b1", "b2", "b3"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("When a fourth id arrives", func() {
			d.SeenAndRecord(ctx, "b4")

			Convey("Then the oldest is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.Seen(ctx, "b1"), ShouldBeFalse)
				So(d.Seen(ctx, "b2"), ShouldBeTrue)
				So(d.Seen(ctx, "b4"), ShouldBeTrue)
			})
		})

		Convey("When an id is unrecorded before its slot is reused", func() {
			d.Unrecord(ctx, "b1")
			So(d.SeenAndRecord(ctx, "b1"), ShouldBeFalse)
			d.SeenAndRecord(ctx, "b5")

			Convey("Then eviction does not drop the re-recorded id", func() {
				So(d.Seen(ctx, "b1"), ShouldBeTrue)
				So(d.Seen(ctx, "b2"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper shared by several writers", t, func() {
		d := dedupe.NewInMemoryDeduper()
		const writers, perWriter = 10, 100

		Convey("When every writer records the same ids", func() {
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				fresh int
			)
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						if !d.SeenAndRecord(context.Background(), fmt.Sprintf("id-%d", i)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each id is fresh exactly once", func() {
				So(fresh, ShouldEqual, perWriter)
				So(d.Size(), ShouldEqual, perWriter)
			})
		})
	})
}
