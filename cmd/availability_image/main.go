package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/access"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/render"
	"github.com/Freeeeeet/appointment_scheduler/internal/repository/memory"
	"github.com/Freeeeeet/appointment_scheduler/internal/service"
	"go.uber.org/zap"
)

// Рисует картинку недели для учреждения с тестовым расписанием
func main() {
	out := flag.String("out", "test_week_availability.png", "output PNG file")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	ctx := context.Background()
	logger := zap.NewNop()
	store := memory.NewStore()
	repo := store.Repository()

	institution := store.AddInstitution("Школа №1")
	counselor := store.AddStaff(institution.ID, "Иванова А.П.")

	system := model.Actor{ID: 1, System: true}
	services := service.New(repo, access.NewGrantGate(repo.Grants, logger), nil, service.Options{}, logger)

	capacity := 3
	noLead := 0
	for _, day := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday} {
		for _, start := range []model.TimeOfDay{model.NewTimeOfDay(9, 0), model.NewTimeOfDay(11, 0), model.NewTimeOfDay(14, 30)} {
			input := service.CreateSlotTemplateInput{
				InstitutionID:       institution.ID,
				DayOfWeek:           day,
				StartTime:           start,
				EndTime:             start + 60,
				DurationMinutes:     60,
				Capacity:            &capacity,
				AdvanceBookingHours: &noLead,
			}
			if start == model.NewTimeOfDay(14, 30) {
				input.StaffID = &counselor.ID
			}
			if _, err := services.Templates.Create(ctx, system, input); err != nil {
				return err
			}
		}
	}

	now := time.Now()
	// Занятые места на ближайшие дни
	days, err := services.Availability.GetAvailability(ctx, system, service.AvailabilityQuery{
		InstitutionID: institution.ID,
		From:          now,
		To:            now.AddDate(0, 0, 6),
	})
	if err != nil {
		return err
	}
	for i, day := range days {
		for j, slot := range day.Slots {
			if (i+j)%2 != 0 {
				continue
			}
			templateID := slot.TemplateID
			_, err := services.Appointments.Create(ctx, system, service.CreateAppointmentInput{
				InstitutionID:   institution.ID,
				SlotTemplateID:  &templateID,
				AppointmentDate: day.Date,
				StudentName:     fmt.Sprintf("Ученик %d", i*10+j),
			})
			if err != nil {
				return err
			}
		}
	}

	week := render.WeekStart(now)
	days, err = services.Availability.GetAvailability(ctx, system, service.AvailabilityQuery{
		InstitutionID: institution.ID,
		From:          week,
		To:            week.AddDate(0, 0, 6),
		IncludeClosed: true,
	})
	if err != nil {
		return err
	}

	imageData, err := render.WeekImage(render.Week{
		Title: institution.Name,
		Start: week,
		Days:  days,
		Now:   now,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(out, imageData, 0644); err != nil {
		return err
	}

	fmt.Printf("Image saved to %s (%d bytes)\n", out, len(imageData))
	return nil
}
