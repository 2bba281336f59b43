package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/hitoshi/hallpass/internal/config"
	"github.com/hitoshi/hallpass/internal/pass"
	"github.com/hitoshi/hallpass/internal/view"
)

// runReportCommand はストアを開き、管理者権限でレポートを出力する。
func runReportCommand(cfg *config.Config, out io.Writer, args []string) error {
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := newPassService(cfg, st, nil)
	return runReport(ctx, out, svc, cfg.AdminEmail, args)
}

// runReport はフラグから絞り込み条件を組み立て、記録の一覧と再訪者の集計を出力する。
func runReport(ctx context.Context, out io.Writer, svc *pass.Service, caller string, args []string) error {
	f, err := parseReportFlags(out, args)
	if err != nil {
		return err
	}

	report, err := svc.Report(ctx, caller, f)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTUDENT\tLOCATION\tTEACHER\tBADGE")
	for _, rec := range report.Passes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(rec.Timestamp),
			rec.StudentName,
			rec.Location,
			rec.TeacherIdentity,
			report.BadgeFor(rec),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s passes, %s students\n",
		humanize.Comma(int64(len(report.Passes))),
		humanize.Comma(int64(len(report.Visitors))),
	)

	repeat := report.RepeatVisitors()
	if len(repeat) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nRepeat visitors:")
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, v := range repeat {
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", v.StudentName, v.Visits, v.Level, v.Badge)
	}
	return tw.Flush()
}

func parseReportFlags(out io.Writer, args []string) (view.Filter, error) {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(out)
	teacher := fs.String("teacher", view.All, "teacher identity, or all")
	student := fs.String("student", "", "student name substring")
	location := fs.String("location", view.All, "location, or all")
	from := fs.String("from", "", "first day (YYYY-MM-DD)")
	to := fs.String("to", "", "last day (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return view.Filter{}, err
	}

	f := view.NewFilter().
		WithTeacher(*teacher).
		WithStudentName(*student).
		WithLocation(*location)

	if *from != "" {
		d, err := view.ParseDay(*from)
		if err != nil {
			return view.Filter{}, err
		}
		f = f.WithDateFrom(d)
	}
	if *to != "" {
		d, err := view.ParseDay(*to)
		if err != nil {
			return view.Filter{}, err
		}
		f = f.WithDateTo(d)
	}
	return f, nil
}
