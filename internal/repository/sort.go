package repository

import (
	"sort"

	"github.com/hitoshi/hallpass/internal/model"
)

// sortByTimestampDesc は記録をtimestamp降順に安定ソートする。
func sortByTimestampDesc(recs []model.PassRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}

// distinctTeachers は記録から教員集合を重複なし昇順で導出する。
func distinctTeachers(recs []model.PassRecord) []string {
	seen := make(map[string]struct{})
	teachers := make([]string, 0)
	for _, r := range recs {
		if _, ok := seen[r.TeacherIdentity]; ok {
			continue
		}
		seen[r.TeacherIdentity] = struct{}{}
		teachers = append(teachers, r.TeacherIdentity)
	}
	sort.Strings(teachers)
	return teachers
}
