// Package render рисует недельную картинку доступности учреждения.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

type fontStyle int

const (
	fontRegular fontStyle = iota
	fontBold
)

// Размеры и отступы
const (
	imageWidth       = 1400
	imageHeight      = 900
	headerHeight     = 110
	leftLabelsWidth  = 80
	legendWidth      = 150
	dayPaddingX      = 8
	minSlotHeight    = 8.0
	slotBorderRadius = 6.0
	shadowOffset     = 3.0
	tierStripHeight  = 6.0
	daysInWeek       = 7
	hourPaddingTop   = 1
	hourPaddingBot   = 1
	defaultMinHour   = 8
	defaultMaxHour   = 18
)

const (
	titleFontSize      = 25.0
	dayFontSize        = 24.0
	hourLabelFontSize  = 18.0
	slotTimeFontSize   = 16.0
	legendItemFontSize = 13.0
)

var (
	bgColor          = color.RGBA{245, 246, 248, 255}
	textColor        = color.RGBA{80, 85, 90, 220}
	hourLabelColor   = color.RGBA{110, 115, 120, 200}
	hourLineColor    = color.NRGBA{150, 150, 150, 255}
	todayBgColor     = color.NRGBA{255, 99, 71, 90}
	evenDayColor     = color.NRGBA{240, 240, 240, 255}
	oddDayColor      = color.NRGBA{220, 220, 220, 255}
	currentTimeColor = color.NRGBA{255, 80, 80, 200}

	slotFreeColor    = color.RGBA{133, 193, 85, 220}
	slotPartialColor = color.RGBA{245, 200, 90, 230}
	slotTextColor    = color.RGBA{20, 24, 28, 230}
	slotShadowColor  = color.RGBA{0, 0, 0, 20}

	legendItemColor = color.RGBA{70, 74, 78, 220}
)

var tierColors = map[model.AvailabilityTier]color.RGBA{
	model.AvailabilityAbundant:    {76, 175, 80, 255},
	model.AvailabilityAvailable:   {139, 195, 74, 255},
	model.AvailabilityLimited:     {255, 167, 38, 255},
	model.AvailabilityFullyBooked: {229, 57, 53, 255},
}

var tierLabels = map[model.AvailabilityTier]string{
	model.AvailabilityAbundant:    "Много мест",
	model.AvailabilityAvailable:   "Есть места",
	model.AvailabilityLimited:     "Мало мест",
	model.AvailabilityFullyBooked: "Нет мест",
}

type hourRange struct {
	start int
	end   int
	total int
}

var (
	fontsOnce   sync.Once
	parsedFonts map[fontStyle]*opentype.Font
)

// setFont выбирает шрифт Go нужного начертания, basicfont если разбор не удался
func setFont(dc *gg.Context, size float64, style fontStyle) {
	fontsOnce.Do(func() {
		parsedFonts = make(map[fontStyle]*opentype.Font)
		if f, err := opentype.Parse(goregular.TTF); err == nil {
			parsedFonts[fontRegular] = f
		}
		if f, err := opentype.Parse(gobold.TTF); err == nil {
			parsedFonts[fontBold] = f
		}
	})

	f, ok := parsedFonts[style]
	if !ok {
		dc.SetFontFace(basicfont.Face7x13)
		return
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		dc.SetFontFace(basicfont.Face7x13)
		return
	}
	dc.SetFontFace(face)
}

// Week входные данные картинки
type Week struct {
	Title string
	Start time.Time               // любая дата недели, картинка строится с понедельника
	Days  []model.AvailabilityDay // дни недели, включая закрытые
	Now   time.Time               // время в часовом поясе учреждения
}

// WeekImage рисует PNG со свободными слотами недели и уровнем доступности каждого дня
func WeekImage(w Week) ([]byte, error) {
	monday := WeekStart(w.Start)
	today := model.Date(w.Now)

	byDate := make(map[string]model.AvailabilityDay, len(w.Days))
	for _, d := range w.Days {
		byDate[model.DateKey(d.Date)] = d
	}

	hours := calculateHourRange(w.Days)

	dc := gg.NewContext(imageWidth, imageHeight)
	dc.SetColor(bgColor)
	dc.Clear()

	dayWidth := (imageWidth - leftLabelsWidth - legendWidth) / daysInWeek
	dayHeight := imageHeight - headerHeight
	cellHeight := float64(dayHeight) / float64(hours.total)

	drawHeader(dc, w.Title, monday)
	drawHourLabels(dc, hours, cellHeight)

	todayIndex := -1
	for i := 0; i < daysInWeek; i++ {
		date := monday.AddDate(0, 0, i)
		x := float64(leftLabelsWidth + i*dayWidth)
		isToday := date.Equal(today)
		if isToday {
			todayIndex = i
		}

		drawDayBackground(dc, x, dayWidth, dayHeight, i, isToday)
		drawDayHeader(dc, date, x, dayWidth)
		drawHourLines(dc, x, dayWidth, hours, cellHeight)

		day, ok := byDate[model.DateKey(date)]
		if !ok {
			continue
		}
		drawTierStrip(dc, day.Availability, x, dayWidth)
		for _, slot := range day.Slots {
			drawSlot(dc, slot, x, dayWidth, hours, cellHeight)
		}
	}

	if todayIndex >= 0 {
		drawCurrentTimeLine(dc, w.Now, hours, cellHeight, dayWidth, todayIndex)
	}
	drawLegend(dc, dayWidth)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WeekStart понедельник недели, в которую попадает дата
func WeekStart(date time.Time) time.Time {
	d := model.Date(date)
	offset := int(d.Weekday()) - 1
	if d.Weekday() == time.Sunday {
		offset = 6
	}
	return d.AddDate(0, 0, -offset)
}

func calculateHourRange(days []model.AvailabilityDay) hourRange {
	minHour, maxHour := 24, 0
	for _, d := range days {
		for _, s := range d.Slots {
			startH := s.StartTime.Hour()
			endH := s.EndTime.Hour()
			if s.EndTime.Minute() > 0 {
				endH++
			}
			if startH < minHour {
				minHour = startH
			}
			if endH > maxHour {
				maxHour = endH
			}
		}
	}

	if minHour == 24 {
		minHour, maxHour = defaultMinHour, defaultMaxHour
	}

	start := minHour - hourPaddingTop
	end := maxHour + hourPaddingBot
	if start < 0 {
		start = 0
	}
	if end > 24 {
		end = 24
	}

	return hourRange{start: start, end: end, total: end - start}
}

func drawHeader(dc *gg.Context, title string, monday time.Time) {
	sunday := monday.AddDate(0, 0, 6)
	period := fmt.Sprintf("%s – %s", monday.Format("02.01.2006"), sunday.Format("02.01.2006"))
	if title != "" {
		period = title + "  ·  " + period
	}

	setFont(dc, titleFontSize, fontBold)
	dc.SetColor(textColor)
	dc.DrawStringAnchored(period, float64(leftLabelsWidth), float64(headerHeight)/4, 0, 0.5)
}

func drawHourLabels(dc *gg.Context, hours hourRange, cellHeight float64) {
	setFont(dc, hourLabelFontSize, fontRegular)
	dc.SetColor(hourLabelColor)

	for i := 0; i <= hours.total; i++ {
		y := float64(headerHeight) + float64(i)*cellHeight
		label := model.NewTimeOfDay(hours.start+i, 0).String()
		dc.DrawStringAnchored(label, float64(leftLabelsWidth)-10, y, 1, 0.5)
	}
}

func drawDayBackground(dc *gg.Context, x float64, dayWidth, dayHeight, index int, isToday bool) {
	switch {
	case isToday:
		dc.SetColor(todayBgColor)
	case index%2 == 0:
		dc.SetColor(evenDayColor)
	default:
		dc.SetColor(oddDayColor)
	}
	dc.DrawRectangle(x, float64(headerHeight), float64(dayWidth), float64(dayHeight))
	dc.Fill()
}

func drawDayHeader(dc *gg.Context, date time.Time, x float64, dayWidth int) {
	setFont(dc, dayFontSize, fontBold)
	dc.SetColor(textColor)
	cx := x + float64(dayWidth)/2
	dc.DrawStringAnchored(date.Format("02.01"), cx, float64(headerHeight), 0.5, -1.6)
	dc.DrawStringAnchored(weekdayShort(date.Weekday()), cx, float64(headerHeight), 0.5, -0.5)
}

// drawTierStrip полоса под заголовком дня в цвете уровня доступности
func drawTierStrip(dc *gg.Context, tier model.AvailabilityTier, x float64, dayWidth int) {
	c, ok := tierColors[tier]
	if !ok {
		return
	}
	dc.SetColor(c)
	dc.DrawRectangle(x, float64(headerHeight), float64(dayWidth), tierStripHeight)
	dc.Fill()
}

func drawHourLines(dc *gg.Context, x float64, dayWidth int, hours hourRange, cellHeight float64) {
	dc.SetLineWidth(0.3)
	dc.SetColor(hourLineColor)

	for i := 0; i <= hours.total; i++ {
		y := float64(headerHeight) + float64(i)*cellHeight
		dc.DrawLine(x, y, x+float64(dayWidth), y)
		dc.Stroke()
	}
}

func drawSlot(dc *gg.Context, slot model.OpenSlot, x float64, dayWidth int, hours hourRange, cellHeight float64) {
	startHour := float64(slot.StartTime) / 60.0
	endHour := float64(slot.EndTime) / 60.0

	y := float64(headerHeight) + (startHour-float64(hours.start))*cellHeight
	height := (endHour - startHour) * cellHeight
	if height < minSlotHeight {
		height = minSlotHeight
	}

	fill := slotFreeColor
	if slot.RemainingCapacity < slot.Capacity {
		fill = slotPartialColor
	}
	width := float64(dayWidth) - float64(dayPaddingX*2)

	// Тень
	dc.SetColor(slotShadowColor)
	dc.DrawRoundedRectangle(x+dayPaddingX+shadowOffset, y+2+shadowOffset, width, height-4, slotBorderRadius)
	dc.Fill()

	dc.SetColor(fill)
	dc.DrawRoundedRectangle(x+float64(dayPaddingX), y+2, width, height-4, slotBorderRadius)
	dc.Fill()

	dc.SetColor(darkenColor(fill, 0.8))
	dc.SetLineWidth(1)
	dc.DrawRoundedRectangle(x+float64(dayPaddingX), y+2, width, height-4, slotBorderRadius)
	dc.Stroke()

	setFont(dc, slotTimeFontSize, fontRegular)
	dc.SetColor(slotTextColor)
	txtX := x + float64(dayPaddingX) + 8
	txtY := y + 18
	dc.DrawStringAnchored(slot.StartTime.String(), txtX, txtY, 0, 0)

	if height > 40 && slot.Capacity > 1 {
		setFont(dc, slotTimeFontSize-3, fontRegular)
		dc.DrawStringAnchored(fmt.Sprintf("%d/%d мест", slot.RemainingCapacity, slot.Capacity), txtX, txtY+16, 0, 0)
	}
}

func darkenColor(c color.RGBA, factor float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * factor),
		G: uint8(float64(c.G) * factor),
		B: uint8(float64(c.B) * factor),
		A: c.A,
	}
}

func drawCurrentTimeLine(dc *gg.Context, now time.Time, hours hourRange, cellHeight float64, dayWidth, dayIndex int) {
	current := float64(now.Hour()) + float64(now.Minute())/60.0
	if current < float64(hours.start) || current > float64(hours.end) {
		return
	}

	y := float64(headerHeight) + (current-float64(hours.start))*cellHeight
	x := float64(leftLabelsWidth + dayIndex*dayWidth)
	dc.SetColor(currentTimeColor)
	dc.SetLineWidth(2.0)
	dc.DrawLine(x, y, x+float64(dayWidth), y)
	dc.Stroke()
}

func drawLegend(dc *gg.Context, dayWidth int) {
	x := float64(leftLabelsWidth + daysInWeek*dayWidth + 12)
	y := float64(imageHeight) - 200.0

	items := []struct {
		label string
		clr   color.Color
	}{
		{"Свободно", slotFreeColor},
		{"Частично занято", slotPartialColor},
	}
	for _, tier := range []model.AvailabilityTier{
		model.AvailabilityAbundant,
		model.AvailabilityAvailable,
		model.AvailabilityLimited,
		model.AvailabilityFullyBooked,
	} {
		items = append(items, struct {
			label string
			clr   color.Color
		}{tierLabels[tier], tierColors[tier]})
	}

	const boxW, boxH = 20.0, 14.0
	setFont(dc, legendItemFontSize, fontRegular)
	for _, item := range items {
		dc.SetColor(item.clr)
		dc.DrawRoundedRectangle(x, y, boxW, boxH, 3)
		dc.Fill()

		dc.SetColor(legendItemColor)
		dc.DrawStringAnchored(item.label, x+boxW+8, y+boxH/2+1, 0, 0.2)
		y += boxH + 14
	}
}

func weekdayShort(weekday time.Weekday) string {
	return [...]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}[weekday]
}

// TierLabel подпись уровня доступности
func TierLabel(tier model.AvailabilityTier) string {
	if label, ok := tierLabels[tier]; ok {
		return label
	}
	return string(tier)
}
