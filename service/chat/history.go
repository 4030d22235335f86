package chat

import (
	"net/http"
	"strconv"

	"RTProject/logger"
	chatmodel "RTProject/module/chat/model"
	errs "RTProject/tools/errs"

	"github.com/gin-gonic/gin"
)

// HandleHistory 游标式历史回放：
//
//	GET /api/rooms/:room/history?before=<seq>&limit=<n>
//
// before<=0 表示从最新开始；返回按 seq 降序的一页和下一页游标。
// 空页（next_cursor=0）和查询失败是两种回答，失败时客户端该重试而不是认为到头。
func (s *Server) HandleHistory(c *gin.Context) {
	roomID := c.Param("room")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeBadPayload, "msg": "room required"})
		return
	}

	before, _ := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit <= 0 {
		limit = s.deps.HistoryLimit
	}
	if limit > s.deps.HistoryMaxLimit {
		limit = s.deps.HistoryMaxLimit
	}

	msgs, err := s.deps.Repo.ListBefore(c.Request.Context(), roomID, before, int64(limit))
	if err != nil {
		logger.Errorf("[history] list err room=%s before=%d err=%v", roomID, before, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code": errs.CodeHistoryUnavail,
			"msg":  "history temporarily unavailable",
		})
		return
	}
	if msgs == nil {
		msgs = []*chatmodel.MessageEnvelope{}
	}

	var next int64
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{
		"room":        roomID,
		"messages":    msgs,
		"next_cursor": next,
	})
}
