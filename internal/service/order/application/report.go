package application

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tableside/internal/service/order/domain"
)

const (
	defaultReportDays = 30
	maxReportDays     = 366
	topItemsLimit     = 10
)

// RevenueReport 是收银端按需查询的营业汇总，只统计已完成订单的收入
type RevenueReport struct {
	RestaurantID   string                                    `json:"restaurant_id"`
	Since          time.Time                                 `json:"since"`
	Days           int                                       `json:"days"`
	OrderCount     int                                       `json:"order_count"`
	CompletedCount int                                       `json:"completed_count"`
	CancelledCount int                                       `json:"cancelled_count"`
	Revenue        decimal.Decimal                           `json:"revenue"`
	AverageOrder   decimal.Decimal                           `json:"average_order"`
	ByServiceType  map[domain.ServiceType]ServiceTypeSummary `json:"by_service_type"`
	Daily          []DailyRevenue                            `json:"daily"`
	TopItems       []ItemSales                               `json:"top_items"`
}

type ServiceTypeSummary struct {
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

type DailyRevenue struct {
	Date    string          `json:"date"` // YYYY-MM-DD，按餐厅时区
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

type ItemSales struct {
	MenuID   string          `json:"menu_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// clampDays 把查询天数限制在合理范围内
func clampDays(days int) int {
	switch {
	case days <= 0:
		return defaultReportDays
	case days > maxReportDays:
		return maxReportDays
	}
	return days
}

// reportStart 返回 days 天前当地零点
func reportStart(now time.Time, days int, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -(days - 1))
}

// BuildRevenueReport 汇总 since 之后创建的订单
func BuildRevenueReport(restaurantID string, orders []*domain.Order, since time.Time, days int, loc *time.Location) RevenueReport {
	rep := RevenueReport{
		RestaurantID:  restaurantID,
		Since:         since,
		Days:          days,
		Revenue:       decimal.Zero,
		AverageOrder:  decimal.Zero,
		ByServiceType: map[domain.ServiceType]ServiceTypeSummary{},
		Daily:         []DailyRevenue{},
		TopItems:      []ItemSales{},
	}

	daily := map[string]*DailyRevenue{}
	items := map[string]*ItemSales{}

	for _, o := range orders {
		rep.OrderCount++
		day := o.CreatedAt.In(loc).Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &DailyRevenue{Date: day, Revenue: decimal.Zero}
			daily[day] = d
		}
		d.Orders++

		switch o.Status {
		case domain.StatusCancelled:
			rep.CancelledCount++
			continue
		case domain.StatusCompleted:
		default:
			continue
		}

		rep.CompletedCount++
		rep.Revenue = rep.Revenue.Add(o.TotalPrice)
		d.Revenue = d.Revenue.Add(o.TotalPrice)

		st := rep.ByServiceType[o.ServiceType]
		st.Orders++
		st.Revenue = st.Revenue.Add(o.TotalPrice)
		rep.ByServiceType[o.ServiceType] = st

		for _, it := range o.Items {
			s, ok := items[it.MenuID]
			if !ok {
				s = &ItemSales{MenuID: it.MenuID, Name: it.Name, Revenue: decimal.Zero}
				items[it.MenuID] = s
			}
			s.Quantity += it.Quantity
			s.Revenue = s.Revenue.Add(it.LineTotal())
		}
	}

	if rep.CompletedCount > 0 {
		rep.AverageOrder = rep.Revenue.Div(decimal.NewFromInt(int64(rep.CompletedCount))).Round(2)
	}

	for _, d := range daily {
		rep.Daily = append(rep.Daily, *d)
	}
	sort.Slice(rep.Daily, func(i, j int) bool { return rep.Daily[i].Date < rep.Daily[j].Date })

	for _, s := range items {
		rep.TopItems = append(rep.TopItems, *s)
	}
	sort.Slice(rep.TopItems, func(i, j int) bool {
		if rep.TopItems[i].Quantity != rep.TopItems[j].Quantity {
			return rep.TopItems[i].Quantity > rep.TopItems[j].Quantity
		}
		return rep.TopItems[i].MenuID < rep.TopItems[j].MenuID
	})
	if len(rep.TopItems) > topItemsLimit {
		rep.TopItems = rep.TopItems[:topItemsLimit]
	}
	return rep
}
