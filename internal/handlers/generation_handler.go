package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"billing-backend/internal/models"
	"billing-backend/internal/services"
	"billing-backend/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// GenerationHandler exposes the invoice generation wizard over HTTP plus
// a websocket progress stream for the processing step.
type GenerationHandler struct {
	Service *services.GenerationService
	Reports *services.ReportService

	upgrader websocket.Upgrader
}

func NewGenerationHandler(service *services.GenerationService, reports *services.ReportService) *GenerationHandler {
	return &GenerationHandler{
		Service: service,
		Reports: reports,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth middleware already ran before the upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *GenerationHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	run := h.Service.StartRun()
	utils.JSON(w, http.StatusCreated, run)
}

func (h *GenerationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.GetRun(mux.Vars(r)["id"])
	if err != nil {
		utils.Error(w, http.StatusNotFound, err.Error())
		return
	}
	utils.JSON(w, http.StatusOK, run)
}

type setPeriodRequest struct {
	Start string `json:"start"` // YYYY-MM-DD
	End   string `json:"end"`   // YYYY-MM-DD
}

func (h *GenerationHandler) SetPeriod(w http.ResponseWriter, r *http.Request) {
	var req setPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		utils.Error(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		utils.Error(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}

	run, err := h.Service.SetPeriod(r.Context(), mux.Vars(r)["id"], models.BillingPeriod{Start: start, End: end})
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, run)
}

type setSelectionRequest struct {
	CustomerIDs []int `json:"customer_ids"`
}

func (h *GenerationHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req setSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	run, err := h.Service.SetSelection(mux.Vars(r)["id"], req.CustomerIDs)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, run)
}

func (h *GenerationHandler) ConfirmPreview(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.ConfirmPreview(mux.Vars(r)["id"])
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, run)
}

func (h *GenerationHandler) SetOptions(w http.ResponseWriter, r *http.Request) {
	var opts models.GenerationOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	run, err := h.Service.SetOptions(mux.Vars(r)["id"], opts)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, run)
}

func (h *GenerationHandler) Back(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.Back(mux.Vars(r)["id"])
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, run)
}

func (h *GenerationHandler) Process(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.Process(mux.Vars(r)["id"])
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusAccepted, run)
}

func (h *GenerationHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Cancel(mux.Vars(r)["id"]); err != nil {
		h.writeRunError(w, err)
		return
	}
	utils.JSON(w, http.StatusOK, map[string]string{"message": "cancellation requested"})
}

// SummaryPDF renders a finished run as a downloadable PDF.
func (h *GenerationHandler) SummaryPDF(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.GetRun(mux.Vars(r)["id"])
	if err != nil {
		utils.Error(w, http.StatusNotFound, err.Error())
		return
	}
	if run.Step != models.StepResults {
		utils.Error(w, http.StatusConflict, "run has no results yet")
		return
	}

	data, err := h.Reports.GenerateRunSummaryPDF(run)
	if err != nil {
		utils.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=run_"+run.ID+".pdf")
	w.Write(data)
}

// StreamProgress upgrades to a websocket and pushes progress updates
// while the run processes, closing once the run reaches results.
func (h *GenerationHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	updates, unsubscribe, err := h.Service.Subscribe(runID)
	if err != nil {
		utils.Error(w, http.StatusNotFound, err.Error())
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Generation] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Send the current state first so late subscribers are not blind
	// until the next customer completes.
	if run, err := h.Service.GetRun(runID); err == nil {
		conn.WriteJSON(run.Progress)
		if run.Step == models.StepResults {
			return
		}
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case progress, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(progress); err != nil {
				return
			}
			if progress.Current >= progress.Total {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (h *GenerationHandler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRunNotFound):
		utils.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrWrongStep),
		errors.Is(err, services.ErrBackNotAllowed),
		errors.Is(err, services.ErrRunInProgress):
		utils.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrNothingSelect),
		errors.Is(err, services.ErrUnknownMode),
		errors.Is(err, models.ErrInvalidPeriod):
		utils.Error(w, http.StatusBadRequest, err.Error())
	default:
		utils.Error(w, http.StatusInternalServerError, err.Error())
	}
}
