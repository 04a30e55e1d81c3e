package store

import (
	"sort"
	"strings"
	"time"

	"github.com/Djangliori/task-new-app/internal/model"
)

// ビューはタスクのスライスに対する純粋関数で、リモート呼び出しを行わない。
// 日付の判定はlocのカレンダー日で行い、期限のないタスクは作成日時で代替する。

// View は一覧ビューの種類。
type View string

const (
	ViewAll       View = "all"
	ViewToday     View = "today"
	ViewUpcoming  View = "upcoming"
	ViewCompleted View = "completed"
	ViewUnfiled   View = "unfiled"
	ViewProject   View = "project"
	ViewSearch    View = "search"
)

// ParseView は文字列をビューに変換する。空文字列はViewAllとして扱う。
func ParseView(s string) (View, bool) {
	switch v := View(s); v {
	case "":
		return ViewAll, true
	case ViewAll, ViewToday, ViewUpcoming, ViewCompleted, ViewUnfiled, ViewProject, ViewSearch:
		return v, true
	default:
		return "", false
	}
}

// Day はタイムゾーン上のカレンダー日。
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf は時刻のloc上のカレンダー日を返す。
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// Before はdがotherより前の日かどうかを返す。
func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// String はYYYY-MM-DD形式を返す。
func (d Day) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

func filter(tasks []model.Task, keep func(*model.Task) bool) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for i := range tasks {
		if keep(&tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	return out
}

// Today は今日のタスクを返す。
func Today(tasks []model.Task, now time.Time, loc *time.Location) []model.Task {
	today := DayOf(now, loc)
	return filter(tasks, func(t *model.Task) bool {
		return DayOf(t.ScheduledAt(), loc) == today
	})
}

// Upcoming は明日以降に予定された未完了のタスクを予定日時の昇順で返す。
func Upcoming(tasks []model.Task, now time.Time, loc *time.Location) []model.Task {
	today := DayOf(now, loc)
	out := filter(tasks, func(t *model.Task) bool {
		return !t.Completed && today.Before(DayOf(t.ScheduledAt(), loc))
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt().Before(out[j].ScheduledAt())
	})
	return out
}

// Completed は完了済みのタスクを返す。
func Completed(tasks []model.Task) []model.Task {
	return filter(tasks, func(t *model.Task) bool { return t.Completed })
}

// ByProject は指定プロジェクトのタスクを返す。
func ByProject(tasks []model.Task, projectID string) []model.Task {
	return filter(tasks, func(t *model.Task) bool { return t.InProject(projectID) })
}

// Unfiled はプロジェクトに属さないタスクを返す。
func Unfiled(tasks []model.Task) []model.Task {
	return filter(tasks, func(t *model.Task) bool { return t.ProjectID == nil })
}

// Search はタスク名に語句を含むタスクを大文字小文字を区別せずに返す。空の語句は何も返さない。
func Search(tasks []model.Task, query string) []model.Task {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []model.Task{}
	}
	return filter(tasks, func(t *model.Task) bool {
		return strings.Contains(strings.ToLower(t.Name), q)
	})
}

// CalendarDay はカレンダーの1日分の集計。
type CalendarDay struct {
	Date         string
	Total        int
	Completed    int
	HighPriority int
	TaskIDs      []string
}

// Calendar は指定月の日ごとの集計を返す。月のすべての日を含む。
func Calendar(tasks []model.Task, year int, month time.Month, loc *time.Location) []CalendarDay {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	days := first.AddDate(0, 1, -1).Day()

	buckets := make([]CalendarDay, days)
	for i := range buckets {
		buckets[i] = CalendarDay{
			Date:    Day{Year: year, Month: month, Day: i + 1}.String(),
			TaskIDs: []string{},
		}
	}

	for i := range tasks {
		t := &tasks[i]
		d := DayOf(t.ScheduledAt(), loc)
		if d.Year != year || d.Month != month {
			continue
		}
		b := &buckets[d.Day-1]
		b.Total++
		if t.Completed {
			b.Completed++
		}
		if t.Priority == model.PriorityHigh {
			b.HighPriority++
		}
		b.TaskIDs = append(b.TaskIDs, t.ID)
	}

	return buckets
}
