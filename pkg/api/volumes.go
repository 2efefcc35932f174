package api

import (
	"net/http"

	"github.com/plfm/plfm/pkg/command"
)

func (s *Server) handleCreateVolume(w http.ResponseWriter, r *http.Request) {
	var in command.CreateVolumeInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in.EnvID = pathVar(r, "env")

	receipt, err := s.commands.CreateVolume(r.Context(), s.caller(r, body), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt, nextAction{Label: "attach it", Cmd: "plfm volumes attach"})
}

func (s *Server) handleDeleteVolume(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.DeleteVolume(r.Context(), s.caller(r, nil), pathVar(r, "volume"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleAttachVolume(w http.ResponseWriter, r *http.Request) {
	var in command.AttachVolumeInput
	body, err := decodeBody(r, &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.commands.AttachVolume(r.Context(), s.caller(r, body), pathVar(r, "volume"), &in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleDetachVolume(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.DetachVolume(r.Context(), s.caller(r, nil), pathVar(r, "volume"), pathVar(r, "attachment"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}

func (s *Server) handleListVolumes(w http.ResponseWriter, r *http.Request) {
	volumes, err := s.views.ListVolumes(r.Context(), pathVar(r, "env"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": volumes})
}

func (s *Server) handleListVolumeAttachments(w http.ResponseWriter, r *http.Request) {
	attachments, err := s.views.ListAttachmentsByVolume(r.Context(), pathVar(r, "volume"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": attachments})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.views.ListSnapshots(r.Context(), pathVar(r, "volume"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": snapshots})
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.commands.CreateSnapshot(r.Context(), s.caller(r, nil), pathVar(r, "volume"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeReceipt(w, receipt)
}
