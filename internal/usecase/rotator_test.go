package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/semmidev/davkeep/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"
)

var rotationStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRotator(store domain.RemoteFileStore, clock *testClock, logger Logger) *Rotator {
	r, err := NewRotator(store, logger, DefaultRotationOptions("/backups"))
	if err != nil {
		panic(err)
	}
	r.now = clock.Now
	return r
}

func put(r *Rotator, name, content string) (*PutResult, error) {
	return r.PutBackup(context.Background(), name, strings.NewReader(content), domain.PutOptions{})
}

func TestRotatorConstruction(t *testing.T) {
	Convey("Given the rotator constructor", t, func() {
		Convey("When the store is nil", func() {
			r, err := NewRotator(nil, nil, DefaultRotationOptions("/backups"))

			Convey("It should refuse with ErrNotInitialized", func() {
				So(r, ShouldBeNil)
				So(errors.Is(err, ErrNotInitialized), ShouldBeTrue)
			})
		})

		Convey("When retention is below one", func() {
			opts := DefaultRotationOptions("/backups")
			opts.Retention = 0
			_, err := NewRotator(newMemStore(newTestClock(rotationStart)), nil, opts)

			Convey("It should return an error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "retention")
			})
		})

		Convey("When the directory is empty", func() {
			_, err := NewRotator(newMemStore(newTestClock(rotationStart)), nil, RotationOptions{Retention: 1})

			Convey("It should return an error", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a zero-value rotator is used", func() {
			var r *Rotator
			_, putErr := put(r, "report.txt", "x")
			_, getErr := r.GetBackup(context.Background(), "report.txt", domain.GetOptions{})
			_, pruneErr := (&Rotator{}).Prune(context.Background(), "report.txt")

			Convey("Every operation should fail with ErrNotInitialized", func() {
				So(errors.Is(putErr, ErrNotInitialized), ShouldBeTrue)
				So(errors.Is(getErr, ErrNotInitialized), ShouldBeTrue)
				So(errors.Is(pruneErr, ErrNotInitialized), ShouldBeTrue)
			})
		})
	})
}

func TestRotatorPutBackup(t *testing.T) {
	Convey("Given a rotator over an in-memory store", t, func() {
		clock := newTestClock(rotationStart)
		store := newMemStore(clock)
		logger := &testLogger{}
		r := newTestRotator(store, clock, logger)

		Convey("When writing a file for the first time", func() {
			result, err := put(r, "report.txt", "first")

			Convey("It should create the directory and write without renaming", func() {
				So(err, ShouldBeNil)
				So(result.Path, ShouldEqual, "/backups/report.txt")
				So(result.Size, ShouldEqual, 5)
				So(result.ArchivedAs, ShouldBeEmpty)
				So(result.Pruned, ShouldBeEmpty)
				So(store.count("CreateDirectory"), ShouldEqual, 1)
				So(store.count("MoveFile"), ShouldEqual, 0)

				content, ok := store.content("/backups/report.txt")
				So(ok, ShouldBeTrue)
				So(content, ShouldEqual, "first")
			})
		})

		Convey("When writing twice into an existing directory", func() {
			_, err := put(r, "report.txt", "one")
			So(err, ShouldBeNil)
			clock.Advance(time.Minute)
			_, err = put(r, "report.txt", "two")

			Convey("It should create the directory only once", func() {
				So(err, ShouldBeNil)
				So(store.count("CreateDirectory"), ShouldEqual, 1)
			})
		})

		Convey("When a file already exists at the target path", func() {
			store.seed("/backups/report.txt", "old", rotationStart.Add(-time.Hour))

			result, err := put(r, "report.txt", "new")

			Convey("It should archive the old content under a UTC+8 timestamp before writing", func() {
				So(err, ShouldBeNil)
				So(result.ArchivedAs, ShouldEqual, "/backups/report.txt.20250101080000")

				archived, ok := store.content("/backups/report.txt.20250101080000")
				So(ok, ShouldBeTrue)
				So(archived, ShouldEqual, "old")

				current, _ := store.content("/backups/report.txt")
				So(current, ShouldEqual, "new")
				So(store.count("MoveFile"), ShouldEqual, 1)
				So(logger.infos, ShouldContain, "[rotate] Renamed existing file to /backups/report.txt.20250101080000")
			})
		})

		Convey("When two rotations happen within the same second", func() {
			store.seed("/backups/report.txt", "v1", rotationStart.Add(-time.Hour))

			_, err := put(r, "report.txt", "v2")
			So(err, ShouldBeNil)
			result, err := put(r, "report.txt", "v3")

			Convey("It should keep both archives by adding a counter", func() {
				So(err, ShouldBeNil)
				So(result.ArchivedAs, ShouldEqual, "/backups/report.txt.20250101080000-1")

				first, _ := store.content("/backups/report.txt.20250101080000")
				second, _ := store.content("/backups/report.txt.20250101080000-1")
				So(first, ShouldEqual, "v1")
				So(second, ShouldEqual, "v2")
			})
		})

		Convey("When more backups are written than the retention count", func() {
			for i := 1; i <= 15; i++ {
				clock.Advance(time.Minute)
				_, err := put(r, "report.txt", fmt.Sprintf("v%d", i))
				So(err, ShouldBeNil)
			}

			Convey("It should keep only the ten most recent archives", func() {
				archives := store.filesWithPrefix("/backups/report.txt.")
				So(len(archives), ShouldEqual, 10)

				var contents []string
				for _, p := range archives {
					c, _ := store.content(p)
					contents = append(contents, c)
				}
				So(contents, ShouldResemble, []string{"v5", "v6", "v7", "v8", "v9", "v10", "v11", "v12", "v13", "v14"})

				current, _ := store.content("/backups/report.txt")
				So(current, ShouldEqual, "v15")
			})
		})

		Convey("When the directory holds the documented report.txt scenario", func() {
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			var seeded []string
			for i := 1; i <= 12; i++ {
				p := fmt.Sprintf("/backups/report.txt.202406%02d000000", i)
				store.seed(p, fmt.Sprintf("archive-%d", i), base.Add(time.Duration(i)*time.Hour))
				seeded = append(seeded, p)
			}
			store.seed("/backups/report.txt", "previous", base.Add(13*time.Hour))
			store.seed("/backups/notes.txt", "unrelated", base)

			result, err := put(r, "report.txt", "new")

			Convey("It should archive, prune the three oldest and write the new content", func() {
				So(err, ShouldBeNil)
				So(result.ArchivedAs, ShouldEqual, "/backups/report.txt.20250101080000")
				So(result.Pruned, ShouldResemble, seeded[:3])

				So(len(store.filesWithPrefix("/backups/report.txt.")), ShouldEqual, 10)
				for _, p := range seeded[:3] {
					_, ok := store.content(p)
					So(ok, ShouldBeFalse)
				}

				archived, _ := store.content("/backups/report.txt.20250101080000")
				So(archived, ShouldEqual, "previous")
				current, _ := store.content("/backups/report.txt")
				So(current, ShouldEqual, "new")
				unrelated, ok := store.content("/backups/notes.txt")
				So(ok, ShouldBeTrue)
				So(unrelated, ShouldEqual, "unrelated")
			})
		})

		Convey("When renaming the existing file fails", func() {
			boom := errors.New("move refused")
			store.seed("/backups/report.txt", "old", rotationStart)
			store.fail["MoveFile"] = boom

			_, err := put(r, "report.txt", "new")

			Convey("It should return ErrRename and write nothing", func() {
				So(errors.Is(err, ErrRename), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
				So(store.count("PutFileContents"), ShouldEqual, 0)
				So(store.count("GetDirectoryContents"), ShouldEqual, 0)

				current, _ := store.content("/backups/report.txt")
				So(current, ShouldEqual, "old")
				So(len(logger.errors), ShouldEqual, 1)
				So(logger.errors[0], ShouldContainSubstring, "/backups/report.txt")
			})
		})

		Convey("When a deletion fails part way through pruning", func() {
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			for i := 1; i <= 13; i++ {
				store.seed(fmt.Sprintf("/backups/report.txt.%02d", i), "old", base.Add(time.Duration(i)*time.Hour))
			}
			boom := errors.New("delete refused")
			store.failDelete["/backups/report.txt.02"] = boom

			_, err := put(r, "report.txt", "new")

			Convey("It should return ErrPrune, keep earlier deletions and skip the write", func() {
				So(errors.Is(err, ErrPrune), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)

				_, firstLeft := store.content("/backups/report.txt.01")
				_, secondLeft := store.content("/backups/report.txt.02")
				_, thirdLeft := store.content("/backups/report.txt.03")
				So(firstLeft, ShouldBeFalse)
				So(secondLeft, ShouldBeTrue)
				So(thirdLeft, ShouldBeTrue)

				_, written := store.content("/backups/report.txt")
				So(written, ShouldBeFalse)
			})
		})

		Convey("When listing the directory fails", func() {
			boom := errors.New("propfind failed")
			store.fail["GetDirectoryContents"] = boom

			_, err := put(r, "report.txt", "new")

			Convey("It should return ErrPrune", func() {
				So(errors.Is(err, ErrPrune), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
				So(store.count("PutFileContents"), ShouldEqual, 0)
			})
		})

		Convey("When the final write fails", func() {
			boom := errors.New("insufficient storage")
			store.fail["PutFileContents"] = boom

			result, err := put(r, "report.txt", "new")

			Convey("It should return ErrWrite and no result", func() {
				So(result, ShouldBeNil)
				So(errors.Is(err, ErrWrite), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When the filename is not a plain name", func() {
			_, slashErr := put(r, "nested/report.txt", "x")
			_, emptyErr := put(r, "", "x")

			Convey("It should return ErrInvalidName without touching the store", func() {
				So(errors.Is(slashErr, ErrInvalidName), ShouldBeTrue)
				So(errors.Is(emptyErr, ErrInvalidName), ShouldBeTrue)
				So(store.count("Exists"), ShouldEqual, 0)
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := r.PutBackup(ctx, "report.txt", strings.NewReader("x"), domain.PutOptions{})

			Convey("It should not start the rotation", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(store.count("Exists"), ShouldEqual, 0)
			})
		})
	})
}

func TestRotatorGetBackup(t *testing.T) {
	Convey("Given a rotator over an in-memory store", t, func() {
		clock := newTestClock(rotationStart)
		store := newMemStore(clock)
		r := newTestRotator(store, clock, &testLogger{})
		ctx := context.Background()

		Convey("When reading back what was written", func() {
			_, err := put(r, "report.txt", "payload")
			So(err, ShouldBeNil)

			content, err := r.GetBackup(ctx, "report.txt", domain.GetOptions{})
			So(err, ShouldBeNil)
			defer content.Close()
			data, err := io.ReadAll(content)

			Convey("It should return the same bytes", func() {
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "payload")
			})
		})

		Convey("When reading a range", func() {
			_, err := put(r, "report.txt", "payload")
			So(err, ShouldBeNil)

			content, err := r.GetBackup(ctx, "report.txt", domain.GetOptions{Offset: 3, Length: 2})
			So(err, ShouldBeNil)
			data, _ := io.ReadAll(content)

			Convey("It should return only the requested bytes", func() {
				So(string(data), ShouldEqual, "lo")
			})
		})

		Convey("When the file does not exist", func() {
			_, err := r.GetBackup(ctx, "missing.txt", domain.GetOptions{})

			Convey("It should return ErrRead wrapping the store error", func() {
				So(errors.Is(err, ErrRead), ShouldBeTrue)
				So(errors.Is(err, fs.ErrNotExist), ShouldBeTrue)
			})
		})
	})
}

func TestRotatorPrune(t *testing.T) {
	Convey("Given archives whose names do not follow their age", t, func() {
		clock := newTestClock(rotationStart)
		store := newMemStore(clock)
		r := newTestRotator(store, clock, &testLogger{})
		ctx := context.Background()

		base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		ages := []int{7, 3, 11, 1, 9, 5, 12, 2, 8, 4, 10, 6}
		for i, age := range ages {
			store.seed(fmt.Sprintf("/backups/report.txt.a%02d", i), "x", base.Add(time.Duration(age)*time.Hour))
		}

		Convey("When pruning to ten", func() {
			pruned, err := r.Prune(ctx, "report.txt")

			Convey("It should delete exactly the two oldest, oldest first", func() {
				So(err, ShouldBeNil)
				So(pruned, ShouldResemble, []string{"/backups/report.txt.a03", "/backups/report.txt.a07"})
				So(len(store.filesWithPrefix("/backups/report.txt.")), ShouldEqual, 10)
			})
		})

		Convey("When the second deletion fails", func() {
			store.failDelete["/backups/report.txt.a07"] = errors.New("locked")
			pruned, err := r.Prune(ctx, "report.txt")

			Convey("It should report the file already deleted with the error", func() {
				So(errors.Is(err, ErrPrune), ShouldBeTrue)
				So(pruned, ShouldResemble, []string{"/backups/report.txt.a03"})
				So(len(store.filesWithPrefix("/backups/report.txt.")), ShouldEqual, 11)
			})
		})

		Convey("When listing variants", func() {
			variants, err := r.Variants(ctx, "report.txt")

			Convey("It should list them oldest first", func() {
				So(err, ShouldBeNil)
				So(len(variants), ShouldEqual, 12)
				So(variants[0].Filename, ShouldEqual, "/backups/report.txt.a03")
				So(variants[11].Filename, ShouldEqual, "/backups/report.txt.a06")
			})
		})
	})

	Convey("Given a directory that does not exist yet", t, func() {
		clock := newTestClock(rotationStart)
		store := newMemStore(clock)
		r := newTestRotator(store, clock, &testLogger{})

		Convey("When pruning", func() {
			pruned, err := r.Prune(context.Background(), "report.txt")

			Convey("It should do nothing", func() {
				So(err, ShouldBeNil)
				So(pruned, ShouldBeEmpty)
				So(store.count("GetDirectoryContents"), ShouldEqual, 0)
			})
		})
	})
}

func TestRotatorCallOrder(t *testing.T) {
	Convey("Given a rotator over a mocked store", t, func() {
		store := &MockStore{}
		r, err := NewRotator(store, &testLogger{}, DefaultRotationOptions("/backups"))
		So(err, ShouldBeNil)

		Convey("When creating the directory fails", func() {
			boom := errors.New("mkcol refused")
			store.On("Exists", mock.Anything, "/backups").Return(false, nil)
			store.On("CreateDirectory", mock.Anything, "/backups", true).Return(boom)

			_, err := put(r, "report.txt", "x")

			Convey("It should abort before any move, delete or write", func() {
				So(errors.Is(err, ErrDirectory), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
				So(store.AssertNotCalled(t, "MoveFile", mock.Anything, mock.Anything, mock.Anything), ShouldBeTrue)
				So(store.AssertNotCalled(t, "DeleteFile", mock.Anything, mock.Anything), ShouldBeTrue)
				So(store.AssertNotCalled(t, "PutFileContents", mock.Anything, mock.Anything, mock.Anything, mock.Anything), ShouldBeTrue)
				So(store.AssertExpectations(t), ShouldBeTrue)
			})
		})

		Convey("When the existence check fails", func() {
			boom := errors.New("unauthorized")
			store.On("Exists", mock.Anything, "/backups").Return(false, boom)

			_, err := put(r, "report.txt", "x")

			Convey("It should return ErrDirectory without creating anything", func() {
				So(errors.Is(err, ErrDirectory), ShouldBeTrue)
				So(store.AssertNotCalled(t, "CreateDirectory", mock.Anything, mock.Anything, mock.Anything), ShouldBeTrue)
			})
		})

		Convey("When nothing exists at the target path", func() {
			opts := domain.PutOptions{ContentType: "application/json", ContentLength: 1}
			store.On("Exists", mock.Anything, "/backups").Return(true, nil)
			store.On("Exists", mock.Anything, "/backups/report.txt").Return(false, nil)
			store.On("GetDirectoryContents", mock.Anything, "/backups").Return([]domain.FileStat{}, nil)
			store.On("PutFileContents", mock.Anything, "/backups/report.txt", mock.Anything, opts).
				Return(domain.WriteResult{Path: "/backups/report.txt", ETag: `"abc"`}, nil)

			result, err := r.PutBackup(context.Background(), "report.txt", strings.NewReader("x"), opts)

			Convey("It should write directly with no rename", func() {
				So(err, ShouldBeNil)
				So(result.ETag, ShouldEqual, `"abc"`)
				So(store.AssertNotCalled(t, "MoveFile", mock.Anything, mock.Anything, mock.Anything), ShouldBeTrue)
				So(store.AssertNotCalled(t, "CreateDirectory", mock.Anything, mock.Anything, mock.Anything), ShouldBeTrue)
				So(store.AssertExpectations(t), ShouldBeTrue)
			})
		})
	})
}

func TestRotationHelpers(t *testing.T) {
	Convey("Given the rotation helpers", t, func() {
		Convey("archiveSuffix should render the shifted clock without separators", func() {
			now := time.Date(2024, 12, 31, 20, 30, 15, 999, time.UTC)
			So(archiveSuffix(now, DefaultUTCOffset), ShouldEqual, "20250101043015")
			So(archiveSuffix(now, 0), ShouldEqual, "20241231203015")
		})

		Convey("archiveSuffix should ignore the location of the input", func() {
			loc := time.FixedZone("UTC-5", -5*3600)
			now := time.Date(2024, 12, 31, 15, 30, 15, 0, loc)
			So(archiveSuffix(now, DefaultUTCOffset), ShouldEqual, "20250101043015")
		})

		Convey("joinRemote should not double the separator", func() {
			So(joinRemote("/backups/", "a.txt"), ShouldEqual, "/backups/a.txt")
			So(joinRemote("/", "a.txt"), ShouldEqual, "/a.txt")
		})

		Convey("backupVariants should keep only matching files", func() {
			entries := []domain.FileStat{
				{Basename: "report.txt", Type: domain.EntryFile},
				{Basename: "report.txt.1", Type: domain.EntryFile},
				{Basename: "report.txt.d", Type: domain.EntryDirectory},
				{Basename: "other.txt", Type: domain.EntryFile},
			}
			variants := backupVariants(entries, "report.txt")
			So(len(variants), ShouldEqual, 2)
			So(variants[0].Basename, ShouldEqual, "report.txt")
			So(variants[1].Basename, ShouldEqual, "report.txt.1")
		})

		Convey("backupVariants should keep listing order when timestamps are missing", func() {
			entries := []domain.FileStat{
				{Basename: "r.c", Type: domain.EntryFile},
				{Basename: "r.a", Type: domain.EntryFile},
				{Basename: "r.b", Type: domain.EntryFile},
			}
			variants := backupVariants(entries, "r")
			So(variants[0].Basename, ShouldEqual, "r.c")
			So(variants[1].Basename, ShouldEqual, "r.a")
			So(variants[2].Basename, ShouldEqual, "r.b")
		})

		Convey("excess should return nothing at or under the limit", func() {
			So(excess(make([]domain.FileStat, 10), 10), ShouldBeEmpty)
			So(len(excess(make([]domain.FileStat, 13), 10)), ShouldEqual, 3)
		})
	})
}
