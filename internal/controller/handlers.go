package controller

import (
	"bytes"
	"context"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/Freeeeeet/appointment_scheduler/internal/render"
	"github.com/Freeeeeet/appointment_scheduler/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// AvailabilityReader запрос доступности, которым пользуется бот
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, actor model.Actor, q service.AvailabilityQuery) ([]model.AvailabilityDay, error)
}

// Options настройки обработчиков
type Options struct {
	Now      func() time.Time
	Location *time.Location
}

type Handlers struct {
	availability AvailabilityReader
	now          func() time.Time
	loc          *time.Location
	logger       *zap.Logger
}

func NewHandlers(availability AvailabilityReader, opts Options, logger *zap.Logger) *Handlers {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handlers{
		availability: availability,
		now:          opts.Now,
		loc:          opts.Location,
		logger:       logger,
	}
}

// HandleStart обрабатывает команду /start
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	name := ""
	if update.Message.From != nil {
		name = update.Message.From.FirstName
	}

	h.sendMessage(ctx, b, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   welcomeText(name),
	})
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	h.sendMessage(ctx, b, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   helpText,
	})
}

// HandleAvailability обрабатывает команду /availability <institution_id> [from] [to]
func (h *Handlers) HandleAvailability(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	reply, photo, err := h.availabilityReply(ctx, update.Message.From.ID, update.Message.Text)
	if err != nil {
		h.sendMessage(ctx, b, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   ErrorMessage(err),
		})
		return
	}

	if photo != nil {
		_, err := b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     &models.InputFileUpload{Filename: "week.png", Data: bytes.NewReader(photo)},
			Caption:   reply,
			ParseMode: models.ParseModeHTML,
		})
		if err == nil {
			return
		}
		h.logger.Warn("Failed to send availability image", zap.Error(err))
	}

	h.sendMessage(ctx, b, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      reply,
		ParseMode: models.ParseModeHTML,
	})
}

// sendMessage отправляет сообщение и логирует если не удалось
func (h *Handlers) sendMessage(ctx context.Context, b *bot.Bot, params *bot.SendMessageParams) {
	if _, err := b.SendMessage(ctx, params); err != nil {
		h.logger.Error("Failed to send message",
			zap.Any("chat_id", params.ChatID),
			zap.Error(err),
		)
	}
}

// availabilityReply готовит текст ответа и картинку недели
func (h *Handlers) availabilityReply(ctx context.Context, accountID int64, text string) (string, []byte, error) {
	now := h.now().In(h.loc)

	args, err := parseAvailabilityArgs(text, now)
	if err != nil {
		return "", nil, err
	}

	days, err := h.availability.GetAvailability(ctx, model.Actor{ID: accountID}, service.AvailabilityQuery{
		InstitutionID: args.institutionID,
		From:          args.from,
		To:            args.to,
		IncludeClosed: true,
	})
	if err != nil {
		h.logger.Info("Availability request rejected",
			zap.Int64("account_id", accountID),
			zap.Int64("institution_id", args.institutionID),
			zap.Error(err))
		return "", nil, err
	}

	reply := formatAvailability(days)

	photo, err := render.WeekImage(render.Week{
		Title: "Учреждение #" + formatID(args.institutionID),
		Start: args.from,
		Days:  days,
		Now:   now,
	})
	if err != nil {
		h.logger.Warn("Failed to render availability image", zap.Error(err))
		return reply, nil, nil
	}

	return reply, photo, nil
}
