package server

import "canteen-sync/internal/domain"

// Display text shown to canteen staff and customers. These never feed back
// into status handling.
var orderStatusLabels = map[domain.OrderStatus]string{
	domain.OrderPending:    "Menunggu Pembayaran",
	domain.OrderConfirmed:  "Dikonfirmasi",
	domain.OrderProcessing: "Sedang Diproses",
	domain.OrderReady:      "Siap Diambil",
	domain.OrderCompleted:  "Selesai",
	domain.OrderCancelled:  "Dibatalkan",
}

var paymentStatusLabels = map[domain.PaymentStatus]string{
	domain.PaymentPending: "Belum Dibayar",
	domain.PaymentPaid:    "Lunas",
	domain.PaymentFailed:  "Gagal",
}

func orderStatusLabel(s domain.OrderStatus) string {
	if l, ok := orderStatusLabels[s]; ok {
		return l
	}
	return string(s)
}

func paymentStatusLabel(s domain.PaymentStatus) string {
	if l, ok := paymentStatusLabels[s]; ok {
		return l
	}
	return string(s)
}

type orderView struct {
	*domain.Order
	StatusLabel        string `json:"status_label"`
	PaymentStatusLabel string `json:"payment_status_label"`
	ManuallyCorrected  bool   `json:"manually_corrected"`
}

func viewOf(o *domain.Order) orderView {
	return orderView{
		Order:              o,
		StatusLabel:        orderStatusLabel(o.Status),
		PaymentStatusLabel: paymentStatusLabel(o.PaymentStatus),
		ManuallyCorrected:  o.StatusSource == domain.SourceManual,
	}
}

func viewsOf(orders []domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for i := range orders {
		out = append(out, viewOf(&orders[i]))
	}
	return out
}
