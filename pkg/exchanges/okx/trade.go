package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

type attachAlgoOrd struct {
	AttachAlgoClOrdID string `json:"attachAlgoClOrdId,omitempty"`
	TpTriggerPx       string `json:"tpTriggerPx"`
	TpOrdPx           string `json:"tpOrdPx"`
	TpOrdKind         string `json:"tpOrdKind"`
	SlTriggerPx       string `json:"slTriggerPx"`
	SlOrdPx           string `json:"slOrdPx"`
	TpTriggerPxType   string `json:"tpTriggerPxType"`
	SlTriggerPxType   string `json:"slTriggerPxType"`
}

type placeOrderReq struct {
	InstID         string          `json:"instId"`
	TdMode         string          `json:"tdMode"`
	Side           string          `json:"side"`
	PosSide        string          `json:"posSide"`
	OrdType        string          `json:"ordType"`
	Sz             string          `json:"sz"`
	ClOrdID        string          `json:"clOrdId,omitempty"`
	ReduceOnly     bool            `json:"reduceOnly,omitempty"`
	AttachAlgoOrds []attachAlgoOrd `json:"attachAlgoOrds,omitempty"`
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// PlaceOrder submits a market order; an Attach bundle becomes attachAlgoOrds
// with market-executed TP/SL triggered on last price.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	mode := req.MarginMode
	if mode == "" {
		mode = common.MarginCross
	}
	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}
	body := placeOrderReq{
		InstID:     InstID(req.Symbol),
		TdMode:     string(mode),
		Side:       string(req.Side),
		PosSide:    string(req.PositionSide),
		OrdType:    string(ordType),
		Sz:         req.Size.String(),
		ClOrdID:    req.ClientID,
		ReduceOnly: req.ReduceOnly,
	}
	if a := req.Attach; a != nil {
		body.AttachAlgoOrds = []attachAlgoOrd{{
			AttachAlgoClOrdID: a.ClientID,
			TpTriggerPx:       a.TakeProfit.String(),
			TpOrdPx:           "-1",
			TpOrdKind:         "condition",
			SlTriggerPx:       a.StopLoss.String(),
			SlOrdPx:           "-1",
			TpTriggerPxType:   "last",
			SlTriggerPxType:   "last",
		}}
	}

	env, err := c.doSigned(ctx, http.MethodPost, "/api/v5/trade/order", body)
	result := common.OrderResult{ClientID: req.ClientID, Status: common.StatusRejected}
	if env != nil {
		result.Code, result.Msg = env.Code, env.Msg
		var acks []orderAck
		if json.Unmarshal(env.Data, &acks) == nil && len(acks) > 0 {
			ack := acks[0]
			result.ExchangeOrderID = ack.OrdID
			if ack.SCode != "" && ack.SCode != "0" {
				// Batch-level code 1 hides the per-order reason in sCode/sMsg.
				result.Code, result.Msg = ack.SCode, ack.SMsg
				if err == nil {
					err = &common.APIError{Venue: "okx", Code: ack.SCode, Msg: ack.SMsg}
				}
			}
		}
	}
	if err != nil {
		return result, fmt.Errorf("place order %s: %w", body.InstID, err)
	}
	if result.ExchangeOrderID == "" {
		return result, fmt.Errorf("place order %s: empty order id", body.InstID)
	}
	result.Status = common.StatusNew
	return result, nil
}

type positionRow struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
}

// GetPositions lists open legs for the symbol's swap instrument. Net-mode
// rows (posSide "net") are mapped to long/short by the sign of pos.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	if symbol != "" {
		q.Set("instId", InstID(symbol))
	}
	env, err := c.doSigned(ctx, http.MethodGet, "/api/v5/account/positions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	var rows []positionRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]common.Position, 0, len(rows))
	for _, r := range rows {
		pos, err := decimal.NewFromString(r.Pos)
		if err != nil || pos.IsZero() {
			continue
		}
		side := common.PositionSide(strings.ToLower(r.PosSide))
		if side != common.PosLong && side != common.PosShort {
			side = common.PosLong
			if pos.IsNegative() {
				side = common.PosShort
			}
		}
		avg, _ := decimal.NewFromString(r.AvgPx)
		out = append(out, common.Position{
			Symbol:       strings.TrimSuffix(r.InstID, "-USDT-SWAP"),
			PositionSide: side,
			Size:         pos.Abs(),
			EntryPrice:   avg,
		})
	}
	return out, nil
}

// SetLeverage sets leverage for both legs of the instrument.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int, mode common.MarginMode) error {
	if mode == "" {
		mode = common.MarginCross
	}
	body := map[string]string{
		"instId":  InstID(symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": string(mode),
	}
	if _, err := c.doSigned(ctx, http.MethodPost, "/api/v5/account/set-leverage", body); err != nil {
		return fmt.Errorf("set leverage %s: %w", InstID(symbol), err)
	}
	return nil
}
