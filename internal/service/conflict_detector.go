package service

import (
	"strings"

	"github.com/edukite/campus-core-api/internal/models"
)

// DetectConflicts compares a candidate course's weekly slots against the
// schedules backing a student's active enrollments. Two slots on the same
// day (case-insensitive) conflict when their half-open minute intervals
// overlap: start1 < end2 && start2 < end1. A slot ending exactly when
// another begins is not a conflict. Malformed slots are skipped.
//
// The returned details describe the existing slots that overlap; an empty
// result means the candidate fits. Pure and deterministic.
func DetectConflicts(candidate []models.ScheduleSlot, existing []models.CourseSlots) []models.ConflictDetail {
	var conflicts []models.ConflictDetail
	for _, cand := range candidate {
		if !validSlot(cand) {
			continue
		}
		for _, course := range existing {
			for _, slot := range course.Slots {
				if !validSlot(slot) {
					continue
				}
				if !strings.EqualFold(cand.DayOfWeek, slot.DayOfWeek) {
					continue
				}
				if cand.StartMinute < slot.EndMinute && slot.StartMinute < cand.EndMinute {
					conflicts = append(conflicts, models.ConflictDetail{
						CourseID:    course.CourseID,
						CourseName:  course.CourseName,
						DayOfWeek:   slot.DayOfWeek,
						StartMinute: slot.StartMinute,
						EndMinute:   slot.EndMinute,
					})
				}
			}
		}
	}
	return conflicts
}

func validSlot(slot models.ScheduleSlot) bool {
	return slot.DayOfWeek != "" && slot.StartMinute < slot.EndMinute && slot.StartMinute >= 0
}
